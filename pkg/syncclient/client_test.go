package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/lily/pkg/httpclient"
	"github.com/Ramsey-B/lily/pkg/models"
)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	hc := httpclient.NewClient(httpclient.DefaultConfig(), ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	return NewClient(hc, server.URL+"/", map[string]string{"X-User-ID": "admin-1"})
}

func TestSyncPage(t *testing.T) {
	ctx := context.Background()

	t.Run("should post the page request and decode the response", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, SyncPath, r.URL.Path)
			assert.Equal(t, "admin-1", r.Header.Get("X-User-ID"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(1000), body["offset"])
			assert.Equal(t, "s-1", body["sessionId"])

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true,"sessionId":"s-1","sourcePageCount":1000,"nextOffset":2000,"hasMore":true,"insertedCount":3}`))
		})

		offset := 1000
		resp, err := client.SyncPage(ctx, models.SyncPageRequest{Offset: &offset, SessionID: "s-1"})
		require.NoError(t, err)
		assert.True(t, resp.HasMore)
		assert.Equal(t, 2000, resp.NextOffset)
		assert.Equal(t, 3, resp.InsertedCount)
	})

	t.Run("should surface the error vocabulary", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"permission denied on table churches","meta":{"code":"PermissionDenied","remediation":"GRANT INSERT ON TABLE public.churches TO authenticated, service_role;"}}`))
		})

		_, err := client.SyncPage(ctx, models.SyncPageRequest{})
		var apiErr *Error
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
		assert.Equal(t, "PermissionDenied", apiErr.Code)
		assert.Contains(t, apiErr.Remediation, "GRANT INSERT")
		assert.False(t, IsTransient(err))
	})

	t.Run("should classify rate limits and gateway timeouts as transient", func(t *testing.T) {
		for _, status := range []int{http.StatusTooManyRequests, http.StatusGatewayTimeout} {
			client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})
			_, err := client.SyncPage(ctx, models.SyncPageRequest{})
			assert.True(t, IsTransient(err), "status %d", status)
		}

		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := client.SyncPage(ctx, models.SyncPageRequest{})
		assert.False(t, IsTransient(err))
	})

	t.Run("should classify a timeout as transient and a cancel as final", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		})

		timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := client.SyncPage(timeoutCtx, models.SyncPageRequest{})
		assert.True(t, IsTransient(err))

		cancelled, cancelNow := context.WithCancel(ctx)
		cancelNow()
		_, err = client.SyncPage(cancelled, models.SyncPageRequest{})
		assert.False(t, IsTransient(err))
	})
}

func TestReleaseSession(t *testing.T) {
	t.Run("should delete the escaped session path", func(t *testing.T) {
		var path string
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			path = r.URL.EscapedPath()
			w.WriteHeader(http.StatusNoContent)
		})

		require.NoError(t, client.ReleaseSession(context.Background(), "a b"))
		assert.Equal(t, SessionPath+"a%20b", path)
	})
}

func TestImport(t *testing.T) {
	t.Run("should upload the file as multipart", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			content, _ := io.ReadAll(file)
			assert.Equal(t, "churches.csv", header.Filename)
			assert.Equal(t, "name\n", string(content))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"format":"csv","rows":1,"inserted":1}`))
		})

		report, err := client.Import(context.Background(), "/tmp/churches.csv", strings.NewReader("name\n"))
		require.NoError(t, err)
		assert.Equal(t, 1, report.Inserted)
	})

	t.Run("should carry row issues on rejection", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"import rejected","meta":{"code":"InvalidImport","details":["line 2: name is required"]}}`))
		})

		_, err := client.Import(context.Background(), "churches.csv", strings.NewReader("x"))
		var apiErr *Error
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, []string{"line 2: name is required"}, apiErr.Details)
	})
}
