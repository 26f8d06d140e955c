// Package report carries per-resource outcomes of backup and restore runs and
// the fatal error type that aborts a whole operation.
package report

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

type Resource string

const (
	ResourceDatabase  Resource = "database"
	ResourceTables    Resource = "tables_json"
	ResourceStorage   Resource = "storage"
	ResourceAuth      Resource = "auth"
	ResourceFunctions Resource = "edge_functions"
	ResourceRoles     Resource = "roles"
	ResourceConfig    Resource = "project_config"
	ResourceWebhooks  Resource = "webhooks"
	ResourceRealtime  Resource = "realtime"
	ResourcePrepare   Resource = "prepare"
	ResourceManifest  Resource = "manifest"
)

// Outcome is the result of one resource step. Items counts what was handled
// successfully and Failures counts itemized degraded failures.
type Outcome struct {
	Resource Resource `json:"resource"`
	Status   Status   `json:"status"`
	Detail   string   `json:"detail,omitempty"`
	Items    int      `json:"items"`
	Failures int      `json:"failures"`
	Errors   []error  `json:"-"`
}

// Fail records an itemized failure.
func (o *Outcome) Fail(err error) {
	o.Failures++
	o.Errors = append(o.Errors, err)
}

// Settle derives the status from the tallies unless already decided.
func (o *Outcome) Settle() {
	if o.Status != "" {
		return
	}
	switch {
	case o.Failures == 0:
		o.Status = StatusSucceeded
	case o.Items > 0:
		o.Status = StatusPartial
	default:
		o.Status = StatusFailed
	}
}

// ErrorStrings flattens the itemized errors for serialization.
func (o Outcome) ErrorStrings() []string {
	out := make([]string, 0, len(o.Errors))
	for _, err := range o.Errors {
		out = append(out, err.Error())
	}
	return out
}

func Skipped(r Resource, detail string) Outcome {
	return Outcome{Resource: r, Status: StatusSkipped, Detail: detail}
}

func Failed(r Resource, err error) Outcome {
	return Outcome{Resource: r, Status: StatusFailed, Detail: err.Error(), Failures: 1, Errors: []error{err}}
}

type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

func (r *Report) Add(o Outcome) {
	o.Settle()
	r.Outcomes = append(r.Outcomes, o)
}

// Get returns the outcome recorded for a resource.
func (r *Report) Get(res Resource) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Resource == res {
			return o, true
		}
	}
	return Outcome{}, false
}

// Degraded reports whether any resource did not fully succeed.
func (r *Report) Degraded() bool {
	for _, o := range r.Outcomes {
		if o.Status == StatusPartial || o.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Statuses maps resource names to their status.
func (r *Report) Statuses() map[string]string {
	out := make(map[string]string, len(r.Outcomes))
	for _, o := range r.Outcomes {
		out[string(o.Resource)] = string(o.Status)
	}
	return out
}

func (r *Report) Summary() string {
	parts := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		parts = append(parts, fmt.Sprintf("%s=%s", o.Resource, o.Status))
	}
	return strings.Join(parts, " ")
}

// FatalError aborts an entire backup or restore.
type FatalError struct {
	Resource Resource
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Resource, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func Fatal(r Resource, err error) error {
	return &FatalError{Resource: r, Err: err}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
