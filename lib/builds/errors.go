package builds

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when a required build option is missing
	ErrInvalidConfig = errors.New("invalid build config")

	// ErrStageFailed is matched by every StageError
	ErrStageFailed = errors.New("build stage failed")

	// ErrNotATerminal is returned when an interactive shell is requested without a terminal
	ErrNotATerminal = errors.New("stdin is not a terminal")
)

// StageError reports which pipeline stage failed
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool { return target == ErrStageFailed }
