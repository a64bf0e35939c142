package ast

import (
	"encoding/json"
	"time"
)

// wireAttempt mirrors one Attempt in the §6.4 trace shape.
type wireAttempt struct {
	Attempt    int    `json:"attempt"`
	Status     string `json:"status"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

// MarshalJSON renders a as the snake_case §6.4 wire shape, timestamps
// forced to UTC RFC3339Nano.
func (a Attempt) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAttempt{
		Attempt:    a.Attempt,
		Status:     a.Status,
		ErrorCode:  a.ErrorCode,
		Error:      a.Error,
		StartedAt:  a.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt: a.FinishedAt.UTC().Format(time.RFC3339Nano),
	})
}

// wireTaskResult mirrors a TaskResult entry of the §6.4 `tasks[]` array.
type wireTaskResult struct {
	Task       string            `json:"task"`
	Worker     string            `json:"worker"`
	Status     string            `json:"status"`
	Confidence float64           `json:"confidence"`
	Output     map[string]Value  `json:"output"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  string            `json:"started_at"`
	FinishedAt string            `json:"finished_at"`
	Provenance map[string]Value  `json:"provenance"`
	Stderr     string            `json:"stderr,omitempty"`
	Attempts   []Attempt         `json:"attempts,omitempty"`
}

// MarshalJSON renders r in the exact snake_case §6.4 wire shape: stderr is
// omitted when empty (spec marks it `stderr?`) and both timestamps are
// forced to UTC.
func (r TaskResult) MarshalJSON() ([]byte, error) {
	output := r.Output
	if output == nil {
		output = map[string]Value{}
	}
	provenance := r.Provenance
	if provenance == nil {
		provenance = map[string]Value{}
	}
	return json.Marshal(wireTaskResult{
		Task:       r.Task,
		Worker:     r.Worker,
		Status:     r.Status,
		Confidence: r.Confidence,
		Output:     output,
		ErrorCode:  r.ErrorCode,
		Error:      r.Error,
		StartedAt:  r.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt: r.FinishedAt.UTC().Format(time.RFC3339Nano),
		Provenance: provenance,
		Stderr:     r.Stderr,
		Attempts:   r.Attempts,
	})
}
