package pipeline

import (
	"errors"
	"fmt"
)

// ErrEmptyQuestion is returned for blank questions. The session is not touched.
var ErrEmptyQuestion = errors.New("question is empty")

// Stage names a step of the query path.
type Stage string

const (
	StageContextualize Stage = "contextualize"
	StageRetrieve      Stage = "retrieve"
	StageRerank        Stage = "rerank"
	StageGenerate      Stage = "generate"
)

// StageError reports which step of the query path failed. Rerank failures
// are absorbed by the pipeline and only ever logged.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
