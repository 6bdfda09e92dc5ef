package scorer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is wrapped by ResponseFormatError when a provider returns
// no text at all
var ErrEmptyResponse = errors.New("empty response")

// ResponseFormatError means the provider answered with empty or non-JSON
// output
type ResponseFormatError struct {
	Operation string
	Raw       string
	Err       error
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Operation, e.Err)
}

func (e *ResponseFormatError) Unwrap() error {
	return e.Err
}

// Failure records one document that could not be scored in a batch
type Failure struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Error      string `json:"error"`
	Err        error  `json:"-"`
}

// AggregateBatchError collects the per-item failures of a batch
type AggregateBatchError struct {
	Failures []Failure
}

func (e *AggregateBatchError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.DocumentID
	}
	return fmt.Sprintf("%d documents failed to score: %s", len(e.Failures), strings.Join(ids, ", "))
}

func (e *AggregateBatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}
