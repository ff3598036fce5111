package ingest

import "fmt"

// Stage names the ingestion step that failed.
type Stage string

const (
	StageLoad  Stage = "load"
	StageEmbed Stage = "embed"
	StageStore Stage = "store"
)

// Error reports an ingestion failure with the step and, when known, the
// offending file.
type Error struct {
	File  string
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("ingest %s %s: %v", e.Stage, e.File, e.Err)
	}
	return fmt.Sprintf("ingest %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
