package httpclient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON unmarshals a JSON response body into out
func DecodeJSON(resp *Response, out any) error {
	if len(resp.Body) == 0 {
		return fmt.Errorf("empty response body")
	}

	contentType := strings.ToLower(resp.ContentType)
	if contentType != "" && !strings.Contains(contentType, "json") {
		return fmt.Errorf("unexpected content type %q", resp.ContentType)
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// Snippet returns the start of the body for log and error messages
func Snippet(resp *Response, max int) string {
	body := strings.TrimSpace(string(resp.Body))
	if len(body) <= max {
		return body
	}
	return body[:max] + "..."
}

// IsSuccessStatus returns true if the status code indicates success
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// IsRetryableStatus returns true if the status code indicates a retryable error
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRateLimitStatus returns true if the status code indicates rate limiting
func IsRateLimitStatus(statusCode int) bool {
	return statusCode == 429
}

// IsGatewayTimeoutStatus returns true for an upstream gateway timeout
func IsGatewayTimeoutStatus(statusCode int) bool {
	return statusCode == 504
}
