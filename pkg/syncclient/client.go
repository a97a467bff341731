// Package syncclient calls the lily sync and import API.
package syncclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/Ramsey-B/lily/pkg/httpclient"
	"github.com/Ramsey-B/lily/pkg/models"
)

const (
	SyncPath    = "/sync-world-churches"
	SessionPath = "/sync-world-churches/sessions/"
	ImportPath  = "/churches/import"
)

// Error is a failed API call. StatusCode is 0 when no response arrived.
type Error struct {
	StatusCode  int
	Code        string
	Message     string
	Remediation string
	Details     []string
	Cause       error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Transient reports whether the same request may succeed if retried: the
// request never got an answer, timed out, or was rate limited.
func (e *Error) Transient() bool {
	if e.StatusCode == 0 {
		if errors.Is(e.Cause, context.Canceled) {
			return false
		}
		return e.Cause != nil
	}
	return httpclient.IsRateLimitStatus(e.StatusCode) || httpclient.IsGatewayTimeoutStatus(e.StatusCode)
}

// IsTransient reports whether err is a retryable API failure.
func IsTransient(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

type errorBody struct {
	Message string `json:"message"`
	Meta    struct {
		Code        string   `json:"code"`
		Remediation string   `json:"remediation"`
		Details     []string `json:"details"`
	} `json:"meta"`
}

type Client struct {
	http    *httpclient.Client
	baseURL string
	headers map[string]string
}

// NewClient targets baseURL. headers are sent on every request, for example
// an Authorization bearer token or X-User-ID.
func NewClient(http *httpclient.Client, baseURL string, headers map[string]string) *Client {
	return &Client{
		http:    http,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
	}
}

// SyncPage runs one page of the world church sync.
func (c *Client) SyncPage(ctx context.Context, req models.SyncPageRequest) (*models.SyncPageResponse, error) {
	resp, err := c.http.PostJSON(ctx, c.baseURL+SyncPath, req, c.headers)
	if err != nil {
		return nil, &Error{Message: "sync request failed", Cause: err}
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, apiError(resp)
	}

	var out models.SyncPageResponse
	if err := httpclient.DecodeJSON(resp, &out); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "invalid sync response", Cause: err}
	}
	return &out, nil
}

// ReleaseSession drops the sync lease held by sessionID.
func (c *Client) ReleaseSession(ctx context.Context, sessionID string) error {
	resp, err := c.http.Delete(ctx, c.baseURL+SessionPath+url.PathEscape(sessionID), c.headers)
	if err != nil {
		return &Error{Message: "release request failed", Cause: err}
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return apiError(resp)
	}
	return nil
}

// Import uploads a CSV or XLSX file to the bulk import endpoint.
func (c *Client) Import(ctx context.Context, filename string, content io.Reader) (*models.ImportReport, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ImportPath, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, &Error{Message: "import request failed", Cause: err}
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, apiError(resp)
	}

	var report models.ImportReport
	if err := httpclient.DecodeJSON(resp, &report); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "invalid import response", Cause: err}
	}
	return &report, nil
}

func apiError(resp *httpclient.Response) *Error {
	apiErr := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var body errorBody
	if err := httpclient.DecodeJSON(resp, &body); err != nil {
		if snippet := httpclient.Snippet(resp, 200); snippet != "" {
			apiErr.Message = snippet
		}
		return apiErr
	}
	if body.Message != "" {
		apiErr.Message = body.Message
	}
	apiErr.Code = body.Meta.Code
	apiErr.Remediation = body.Meta.Remediation
	apiErr.Details = body.Meta.Details
	return apiErr
}
