package policy

import (
	"errors"
	"fmt"

	"agent_society/internal/domain"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrEmptyID        = errors.New("message id is empty")
	ErrDuplicateID    = errors.New("message id already in log")
	ErrUnknownRef     = errors.New("message references an id not in log")
	ErrRefNotProposal = errors.New("verification must reference a proposal")
)

// Log is the read side of the blackboard the engine validates against.
// It is called while the blackboard holds its write lock.
type Log interface {
	Lookup(id string) (domain.Message, bool)
}

type Engine struct{}

func New() *Engine {
	return &Engine{}
}

// CheckAppend reports whether msg may be appended to log. Every returned
// error wraps one of the package sentinels.
func (e *Engine) CheckAppend(log Log, msg domain.Message) error {
	if msg.ID == "" {
		return ErrEmptyID
	}
	if msg.AuthorID == "" {
		return fmt.Errorf("%w: message %s has no author", ErrInvalidMessage, msg.ID)
	}
	if !msg.Kind.Valid() {
		return fmt.Errorf("%w: message %s has unknown kind %q", ErrInvalidMessage, msg.ID, msg.Kind)
	}
	if msg.Confidence < 0 || msg.Confidence > 1 {
		return fmt.Errorf("%w: message %s confidence %v outside [0,1]", ErrInvalidMessage, msg.ID, msg.Confidence)
	}
	if _, exists := log.Lookup(msg.ID); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}

	if msg.Kind == domain.MessageKindVerification && !msg.HasRef() {
		return fmt.Errorf("%w: verification %s has no ref_id", ErrInvalidMessage, msg.ID)
	}
	if !msg.HasRef() {
		return nil
	}
	ref, ok := log.Lookup(msg.RefID)
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrUnknownRef, msg.ID, msg.RefID)
	}
	if msg.Kind == domain.MessageKindVerification && ref.Kind != domain.MessageKindProposal {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrRefNotProposal, msg.ID, ref.ID, ref.Kind)
	}
	return nil
}
