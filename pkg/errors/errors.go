package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

type Code string

const (
	CodeRemoteFetchFailed Code = "RemoteFetchFailed"
	CodePermissionDenied  Code = "PermissionDenied"
	CodeDatabaseError     Code = "DatabaseError"
	CodeSyncInProgress    Code = "SyncInProgress"
	CodeInvalidImport     Code = "InvalidImport"
)

var statusByCode = map[Code]int{
	CodeRemoteFetchFailed: http.StatusBadGateway,
	CodePermissionDenied:  http.StatusForbidden,
	CodeDatabaseError:     http.StatusInternalServerError,
	CodeSyncInProgress:    http.StatusConflict,
	CodeInvalidImport:     http.StatusUnprocessableEntity,
}

// SyncError is a pipeline failure from the fixed error vocabulary.
type SyncError struct {
	Code        Code
	Message     string
	Remediation string
	// UpstreamStatus is the external source HTTP status for RemoteFetchFailed, 0 otherwise.
	UpstreamStatus int
	Details        []string
	Cause          error
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// StatusCode is the HTTP status the API answers with for this error.
func (e *SyncError) StatusCode() int {
	// rate limiting and gateway timeouts pass through so callers can retry them
	if e.Code == CodeRemoteFetchFailed && (e.UpstreamStatus == http.StatusTooManyRequests || e.UpstreamStatus == http.StatusGatewayTimeout) {
		return e.UpstreamStatus
	}
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (e *SyncError) ToHTTPError() *httperror.HTTPError {
	herr := httperror.NewHTTPError(e.StatusCode(), e.Message).AddMetaValue("code", string(e.Code))
	if e.Remediation != "" {
		herr = herr.AddMetaValue("remediation", e.Remediation)
	}
	if e.UpstreamStatus != 0 {
		herr = herr.AddMetaValue("upstream_status", e.UpstreamStatus)
	}
	if len(e.Details) > 0 {
		herr = herr.AddMetaValue("details", e.Details)
	}
	return herr
}

func RemoteFetchFailed(upstreamStatus int, cause error, format string, args ...any) *SyncError {
	return &SyncError{
		Code:           CodeRemoteFetchFailed,
		Message:        fmt.Sprintf(format, args...),
		UpstreamStatus: upstreamStatus,
		Cause:          cause,
	}
}

// PermissionDenied carries the grant statements an operator must run on table.
func PermissionDenied(table string, privileges []string, cause error) *SyncError {
	return &SyncError{
		Code:        CodePermissionDenied,
		Message:     fmt.Sprintf("permission denied on table %s", table),
		Remediation: GrantStatements(table, privileges),
		Cause:       cause,
	}
}

func DatabaseError(cause error, format string, args ...any) *SyncError {
	return &SyncError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func SyncInProgress(owner string) *SyncError {
	return &SyncError{
		Code:    CodeSyncInProgress,
		Message: "another sync session is already running",
		Details: []string{"session " + owner},
	}
}

func InvalidImport(details []string) *SyncError {
	return &SyncError{
		Code:    CodeInvalidImport,
		Message: fmt.Sprintf("import rejected: %d row issue(s), no rows were written", len(details)),
		Details: details,
	}
}

// GrantStatements renders the SQL an operator runs to give the service role access.
func GrantStatements(table string, privileges []string) string {
	if len(privileges) == 0 {
		privileges = []string{"SELECT"}
	}
	return fmt.Sprintf("GRANT %s ON TABLE public.%s TO authenticated, service_role;", strings.Join(privileges, ", "), table)
}

// As returns the SyncError in err's chain, if any.
func As(err error) (*SyncError, bool) {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr, true
	}
	return nil, false
}

// HasCode reports whether err carries a SyncError with the given code.
func HasCode(err error, code Code) bool {
	syncErr, ok := As(err)
	return ok && syncErr.Code == code
}
