package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// State is a step of a pipeline run.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateImageStored       State = "IMAGE_STORED"
	StateClassified        State = "CLASSIFIED"
	StateAttributesDerived State = "ATTRIBUTES_DERIVED"
	StateReportRendered    State = "REPORT_RENDERED"
	StateComplete          State = "COMPLETE"
	StateFailed            State = "FAILED"
)

var forward = []State{
	StateReceived,
	StateImageStored,
	StateClassified,
	StateAttributesDerived,
	StateReportRendered,
	StateComplete,
}

var ErrInvalidTransition = errors.New("invalid state transition")

func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

func position(s State) int {
	for i, f := range forward {
		if f == s {
			return i
		}
	}
	return -1
}

// Transition checks one edge: a single step forward, or FAILED from any
// non-terminal state.
func Transition(from, to State) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if position(from) < 0 {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}
	if to == StateFailed {
		return nil
	}
	if position(to) != position(from)+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// TransitionRecord is one edge taken by a run.
type TransitionRecord struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// machine tracks a single run. It is not shared between goroutines.
type machine struct {
	state   State
	history []TransitionRecord
	now     func() time.Time
}

func newMachine(now func() time.Time) *machine {
	return &machine{state: StateReceived, now: now}
}

func (m *machine) advance(to State) error {
	if err := Transition(m.state, to); err != nil {
		return err
	}
	m.history = append(m.history, TransitionRecord{From: m.state, To: to, At: m.now()})
	m.state = to
	return nil
}
