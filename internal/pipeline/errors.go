package pipeline

import (
	"fmt"

	"github.com/example/tumor-report/internal/domain"
)

// StageError is the terminal FAILED(stage, kind) of a run. Stage is the
// state the run was trying to enter.
type StageError struct {
	Stage State
	Kind  string
	Err   error
}

func newStageError(stage State, err error) *StageError {
	return &StageError{Stage: stage, Kind: domain.ErrorKind(err), Err: err}
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("FAILED(%s, %s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
