package types

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

var (
	_ error = &ConnectionError{}
	_ error = &StatementError{}
	_ error = &QualityError{}
)

const (
	ErrorKindConnection = "connection"
	ErrorKindStatement  = "statement"
	ErrorKindQuality    = "quality"
	ErrorKindUnknown    = "unknown"
)

func NewConnectionError(otherErr error) error {
	return &ConnectionError{baseError: newBaseErr(otherErr)}
}

func NewConnectionErrorf(format string, args ...interface{}) error {
	return NewConnectionError(errors.Errorf(format, args...))
}

func NewStatementError(otherErr error) error {
	return &StatementError{baseError: newBaseErr(otherErr)}
}

func NewQualityError(failedChecks []string, total int) error {
	msg := fmt.Sprintf("%d of %d data quality checks failed: %s",
		len(failedChecks), total, strings.Join(failedChecks, "; "))
	return &QualityError{
		baseError:    newBaseErr(errors.New(msg)),
		FailedChecks: failedChecks,
		Total:        total,
	}
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{unwrapErr(otherErr)}
}

func unwrapErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(wrappedErr); ok {
		return unwrapErr(ue.UnwrapLocal())
	}
	return err
}

type wrappedErr interface {
	UnwrapLocal() error
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	return e.BaseErr.Error()
}

func (e *baseError) UnwrapLocal() error {
	return e.BaseErr
}

func (e *baseError) Unwrap() error {
	return e.BaseErr
}

// ConnectionError: the warehouse could not be reached or credentials could
// not be resolved.
type ConnectionError struct {
	*baseError
}

// StatementError: the warehouse rejected a statement.
type StatementError struct {
	*baseError
}

// QualityError: one or more data quality checks did not match.
type QualityError struct {
	*baseError
	FailedChecks []string
	Total        int
}

// ErrorKind classifies err for trace records and logs.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		connErr    *ConnectionError
		stmtErr    *StatementError
		qualityErr *QualityError
	)
	switch {
	case errors.As(err, &connErr):
		return ErrorKindConnection
	case errors.As(err, &stmtErr):
		return ErrorKindStatement
	case errors.As(err, &qualityErr):
		return ErrorKindQuality
	}
	return ErrorKindUnknown
}
