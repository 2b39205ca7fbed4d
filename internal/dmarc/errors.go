package dmarc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrInvalidXML is returned when a payload is not well-formed XML.
	ErrInvalidXML = errors.New("not a valid XML document")
	// ErrMissingFields is returned when a well-formed document lacks
	// report_metadata or policy_published.
	ErrMissingFields = errors.New("the XML is valid, but required DMARC fields are missing")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("DMARC report failed validation")
	// ErrMapping is matched by every *MappingError.
	ErrMapping = errors.New("unmappable DMARC field value")
	// ErrBatchLimit is returned when a batch exceeds the configured limits.
	ErrBatchLimit = errors.New("batch exceeds limits")
)

// ValidationError holds one rendered message per violated validator kind.
type ValidationError struct {
	merr  *multierror.Error
	kinds []Kind
}

func newValidationError(kinds []Kind, messages []string) *ValidationError {
	var merr *multierror.Error
	for _, m := range messages {
		merr = multierror.Append(merr, errors.New(m))
	}
	merr.ErrorFormat = func(errs []error) string {
		lines := make([]string, len(errs))
		for i, e := range errs {
			lines[i] = e.Error()
		}
		return strings.Join(lines, "\n")
	}
	return &ValidationError{merr: merr, kinds: kinds}
}

func (e *ValidationError) Error() string {
	return e.merr.Error()
}

// Messages returns the rendered messages in registry order.
func (e *ValidationError) Messages() []string {
	messages := make([]string, len(e.merr.Errors))
	for i, err := range e.merr.Errors {
		messages[i] = err.Error()
	}
	return messages
}

// Kinds returns the validator kinds that failed, in the same order as Messages.
func (e *ValidationError) Kinds() []Kind {
	return append([]Kind(nil), e.kinds...)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// MappingError reports an enumerated field holding a literal outside its value set.
type MappingError struct {
	Field string
	Value string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("could not map %s value %q", e.Field, e.Value)
}

func (e *MappingError) Is(target error) bool {
	return target == ErrMapping
}

// PersistenceError wraps a failure of the persistence collaborator.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("could not persist reports: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DocumentError attributes a failure to the position of a document in a batch.
type DocumentError struct {
	Index int
	Err   error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %d: %v", e.Index+1, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}
