// Package conversation holds per-session turn history and the state machine
// that keeps it consistent across failed queries.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// State is the lifecycle state of a Session.
type State int

const (
	// StateIdle accepts a new question.
	StateIdle State = iota
	// StateAwaitingAnswer has a question in flight.
	StateAwaitingAnswer
	// StateClosed is terminal; the history has been discarded.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrBusy is returned by Begin while another question is in flight.
	ErrBusy = errors.New("session is awaiting an answer")
	// ErrNotPending is returned by Commit when no question is in flight.
	ErrNotPending = errors.New("no question in flight")
	// ErrClosed is returned for any use of a closed session.
	ErrClosed = errors.New("session closed")
)

// Session is the turn history of one conversation. Turns are only ever
// appended in user/assistant pairs, on Commit. A failed query calls Abort
// and leaves the history exactly as it was.
type Session struct {
	id      string
	created time.Time

	mu       sync.Mutex
	state    State
	turns    []Turn
	question string
}

// NewSession creates an idle session with no turns.
func NewSession(id string) *Session {
	return &Session{id: id, created: time.Now().UTC()}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.created }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turns returns a copy of the committed history.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// Len returns the number of committed turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Begin moves the session to StateAwaitingAnswer for question and returns
// the history the question should be interpreted against.
func (s *Session) Begin(question string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return nil, ErrClosed
	case StateAwaitingAnswer:
		return nil, ErrBusy
	}
	s.state = StateAwaitingAnswer
	s.question = question
	return append([]Turn(nil), s.turns...), nil
}

// Commit appends the pending question and its answer and returns to idle.
func (s *Session) Commit(answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateIdle:
		return ErrNotPending
	}
	s.turns = append(s.turns,
		Turn{Role: RoleUser, Content: s.question},
		Turn{Role: RoleAssistant, Content: answer},
	)
	s.question = ""
	s.state = StateIdle
	return nil
}

// Abort drops the pending question and returns to idle without touching
// the history.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAwaitingAnswer {
		s.question = ""
		s.state = StateIdle
	}
}

// Close discards the history. A closed session rejects further use.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.question = ""
	s.state = StateClosed
}
