package service

import (
	"errors"
	"fmt"
)

var (
	ErrReadyTimeout    = errors.New("frontend did not signal ready in time")
	ErrConnectionLost  = errors.New("client connection lost")
	ErrUnexpectedFrame = errors.New("unexpected client frame")
	ErrSessionClosed   = errors.New("session closed")
)

// Stage names the step of a conversation turn that failed.
type Stage string

const (
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
	StageDeliver    Stage = "deliver"
)

// StageError wraps the failure of one turn stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
