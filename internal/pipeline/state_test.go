package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		to    State
		valid bool
	}{
		{"received to stored", StateReceived, StateImageStored, true},
		{"stored to classified", StateImageStored, StateClassified, true},
		{"classified to derived", StateClassified, StateAttributesDerived, true},
		{"derived to rendered", StateAttributesDerived, StateReportRendered, true},
		{"rendered to complete", StateReportRendered, StateComplete, true},
		{"fail from received", StateReceived, StateFailed, true},
		{"fail from rendered", StateReportRendered, StateFailed, true},
		{"skip a stage", StateReceived, StateClassified, false},
		{"go backwards", StateClassified, StateImageStored, false},
		{"stay put", StateClassified, StateClassified, false},
		{"leave complete", StateComplete, StateFailed, false},
		{"leave failed", StateFailed, StateReceived, false},
		{"unknown source", State("PAUSED"), StateFailed, false},
		{"unknown target", StateReceived, State("PAUSED"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestMachine_RecordsHistory(t *testing.T) {
	at := time.Date(2025, 3, 14, 15, 4, 0, 0, time.UTC)
	m := newMachine(func() time.Time { return at })

	require.NoError(t, m.advance(StateImageStored))
	require.NoError(t, m.advance(StateFailed))
	assert.Equal(t, StateFailed, m.state)
	assert.Equal(t, []TransitionRecord{
		{From: StateReceived, To: StateImageStored, At: at},
		{From: StateImageStored, To: StateFailed, At: at},
	}, m.history)

	assert.ErrorIs(t, m.advance(StateClassified), ErrInvalidTransition)
	assert.Len(t, m.history, 2)
}

func TestStageError(t *testing.T) {
	var nilErr *StageError
	assert.Equal(t, "", nilErr.Error())
	assert.NoError(t, nilErr.Unwrap())

	err := newStageError(StateImageStored, errEmpty)
	assert.Equal(t, StateImageStored, err.Stage)
	assert.Equal(t, "Internal", err.Kind)
	assert.Equal(t, "FAILED(IMAGE_STORED, Internal): empty", err.Error())
	assert.ErrorIs(t, err, errEmpty)
}
