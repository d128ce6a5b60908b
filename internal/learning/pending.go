package learning

import (
	"errors"
	"fmt"
)

var ErrAlreadyPending = errors.New("decision already pending for message")

// Pending maps a message id to the decision that produced it until feedback
// for that id is consumed.
type Pending struct {
	decisions map[string]StateAction
}

func NewPending() *Pending {
	return &Pending{decisions: make(map[string]StateAction)}
}

func (p *Pending) Record(messageID string, sa StateAction) error {
	if _, exists := p.decisions[messageID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyPending, messageID)
	}
	p.decisions[messageID] = sa
	return nil
}

// Take removes and returns the decision for messageID. A second Take for the
// same id reports false.
func (p *Pending) Take(messageID string) (StateAction, bool) {
	sa, ok := p.decisions[messageID]
	if ok {
		delete(p.decisions, messageID)
	}
	return sa, ok
}

func (p *Pending) Has(messageID string) bool {
	_, ok := p.decisions[messageID]
	return ok
}

func (p *Pending) Len() int {
	return len(p.decisions)
}
