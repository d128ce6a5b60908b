package blackboard

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"agent_society/internal/domain"
	"agent_society/internal/policy"
)

var ErrBoardClosed = errors.New("blackboard is closed")

// Reader yields a read-only view of the log valid for one agent turn.
type Reader interface {
	Snapshot() []domain.Message
}

type Writer interface {
	Append(msg domain.Message) error
}

type Validator interface {
	CheckAppend(log policy.Log, msg domain.Message) error
}

type EventKind string

const (
	EventAppended      EventKind = "appended"
	EventRoundAdvanced EventKind = "round_advanced"
)

type Event struct {
	Kind    EventKind
	Round   int
	Message domain.Message
}

// Board is the shared append-only message log plus the round counter.
// Appends are serialized; messages are never removed or mutated.
type Board struct {
	mu        sync.RWMutex
	messages  []domain.Message
	index     map[string]int
	round     int
	closed    bool
	validator Validator

	subs    map[int]chan Event
	nextSub int
	buffer  int
	dropped atomic.Int64
}

func New(validator Validator, buffer int) *Board {
	if validator == nil {
		validator = policy.New()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Board{
		index:     make(map[string]int),
		validator: validator,
		subs:      make(map[int]chan Event),
		buffer:    buffer,
	}
}

// Snapshot returns the log as of now. The returned slice is clipped, so a
// caller appending to it never writes into the board's storage.
func (b *Board) Snapshot() []domain.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clip(b.messages)
}

// Freeze captures the log as an immutable Reader.
func (b *Board) Freeze() Frozen {
	return Frozen(b.Snapshot())
}

func (b *Board) Append(msg domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBoardClosed
	}
	if err := b.validator.CheckAppend(unlockedLog{b}, msg); err != nil {
		return fmt.Errorf("append %s from %s: %w", msg.Kind, msg.AuthorID, err)
	}
	b.index[msg.ID] = len(b.messages)
	b.messages = append(b.messages, msg)
	b.publishLocked(Event{Kind: EventAppended, Round: b.round, Message: msg})
	return nil
}

func (b *Board) Lookup(id string) (domain.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return unlockedLog{b}.Lookup(id)
}

func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

func (b *Board) Round() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.round
}

// AdvanceRound increments the round counter and returns the new value.
func (b *Board) AdvanceRound() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.round++
	b.publishLocked(Event{Kind: EventRoundAdvanced, Round: b.round})
	return b.round
}

// Subscribe registers an observer. Events are delivered without blocking
// appends; an observer that falls behind loses events (see Dropped).
func (b *Board) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = b.buffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *Board) Dropped() int64 {
	return b.dropped.Load()
}

// Close rejects further appends and closes every observer channel.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Board) publishLocked(ev Event) {
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// unlockedLog gives the validator lookups while Append holds the write lock.
type unlockedLog struct {
	b *Board
}

func (l unlockedLog) Lookup(id string) (domain.Message, bool) {
	i, ok := l.b.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return l.b.messages[i], true
}

// Frozen is a fixed view of the log, shared by every turn of a round.
type Frozen []domain.Message

func (f Frozen) Snapshot() []domain.Message {
	return f
}
