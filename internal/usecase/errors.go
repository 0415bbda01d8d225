package usecase

import "fmt"

type ErrorCode string

const (
	ErrorBadRequest           ErrorCode = "BAD_REQUEST"
	ErrorNotFound             ErrorCode = "NOT_FOUND"
	ErrorIdentityNotFound     ErrorCode = "IDENTITY_NOT_FOUND"
	ErrorDataIntegrity        ErrorCode = "DATA_INTEGRITY"
	ErrorQueryFailed          ErrorCode = "QUERY_FAILED"
	ErrorIdentityDeleteFailed ErrorCode = "IDENTITY_DELETE_FAILED"
	ErrorCascadeDeleteFailed  ErrorCode = "CASCADE_DELETE_FAILED"
	ErrorProfileDeleteFailed  ErrorCode = "PROFILE_DELETE_FAILED"
	ErrorInternal             ErrorCode = "INTERNAL_ERROR"
)

// IsNotFound reports whether the code belongs to the not-found class. Only
// a directory miss qualifies; a missing profile stays a generic failure and
// is told apart by its tag.
func (c ErrorCode) IsNotFound() bool {
	return c == ErrorIdentityNotFound
}

// Stage is one step of the deletion pipeline.
type Stage string

const (
	StageValidate       Stage = "validate"
	StageResolve        Stage = "resolve"
	StageDeleteIdentity Stage = "delete_identity"
	StageCollect        Stage = "collect"
	StageCascadeDelete  Stage = "cascade_delete"
	StageDeleteProfile  Stage = "delete_profile"
)

type Error struct {
	Code   ErrorCode
	Stage  Stage
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s at %s (%s)", e.Code, e.Stage, e.Reason)
	}
	return fmt.Sprintf("usecase: %s at %s (%s): %v", e.Code, e.Stage, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, stage Stage, reason string, err error) *Error {
	return &Error{Code: code, Stage: stage, Reason: reason, Err: err}
}
