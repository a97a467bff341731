package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/syncclient"
)

func findCmd(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func TestRootCommand(t *testing.T) {
	t.Run("should register sync and import", func(t *testing.T) {
		cmd := getRootCmd()

		syncCmd := findCmd(cmd, "sync")
		require.NotNil(t, syncCmd)
		assert.NotNil(t, findCmd(syncCmd, "status"))
		assert.NotNil(t, findCmd(syncCmd, "reset"))
		assert.NotNil(t, findCmd(cmd, "import"))
	})

	t.Run("should expose the connection flags", func(t *testing.T) {
		cmd := getRootCmd()

		for _, name := range []string{"api", "user", "token", "verbose"} {
			assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
		}
	})

	t.Run("should print the version", func(t *testing.T) {
		cmd := getRootCmd()
		cmd.Version = "test-version"

		buf := new(bytes.Buffer)
		cmd.SetOut(buf)
		cmd.SetArgs([]string{"--version"})
		require.NoError(t, cmd.Execute())

		assert.Contains(t, buf.String(), "test-version")
	})
}

func TestGlobalOptionsHeaders(t *testing.T) {
	t.Run("should send the actor header and bearer token", func(t *testing.T) {
		opts := &globalOptions{userID: "admin-1", token: "abc"}

		headers := opts.headers()

		assert.Equal(t, "admin-1", headers["X-User-ID"])
		assert.Equal(t, "Bearer abc", headers["Authorization"])
	})

	t.Run("should send nothing by default", func(t *testing.T) {
		assert.Empty(t, (&globalOptions{}).headers())
	})
}

func TestPromptDecider(t *testing.T) {
	cp := &models.SyncCheckpoint{Offset: 12000, Page: 12, Processed: 12000, UpdatedAt: time.Now().Add(-time.Hour)}

	cases := map[string]bool{
		"\n":    true,
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"no\n":  false,
		"":      true,
	}
	for answer, want := range cases {
		t.Run("should handle answer "+strings.TrimSpace(answer), func(t *testing.T) {
			out := new(bytes.Buffer)

			resume, err := promptDecider(strings.NewReader(answer), out)(t.Context(), cp)

			require.NoError(t, err)
			assert.Equal(t, want, resume)
			assert.Contains(t, out.String(), "offset 12,000")
		})
	}
}

// syncServer serves pages of size 500 until total rows have been handed out.
// failAt makes the page at that offset fail with a 500.
type syncServer struct {
	mu       sync.Mutex
	total    int
	failAt   int
	requests []models.SyncPageRequest
	released []string
}

func (s *syncServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync-world-churches", func(w http.ResponseWriter, r *http.Request) {
		var req models.SyncPageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		failAt := s.failAt
		s.mu.Unlock()

		offset := 0
		if req.Offset != nil {
			offset = *req.Offset
		}
		w.Header().Set("Content-Type", "application/json")
		if failAt > 0 && offset == failAt {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": "permission denied for table churches",
				"meta": map[string]any{
					"code":        "PermissionDenied",
					"remediation": "GRANT INSERT ON churches TO lily;",
				},
			})
			return
		}

		count := min(500, s.total-offset)
		_ = json.NewEncoder(w).Encode(models.SyncPageResponse{
			Success:         true,
			SessionID:       "session-1",
			SourcePageCount: count,
			NextOffset:      offset + count,
			HasMore:         count == 500,
			InsertedCount:   count,
		})
	})
	mux.HandleFunc("DELETE /sync-world-churches/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.released = append(s.released, r.PathValue("id"))
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := getRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSyncCommand(t *testing.T) {
	t.Run("should run every page and remove the checkpoint", func(t *testing.T) {
		server := &syncServer{total: 1200}
		srv := httptest.NewServer(server.handler())
		defer srv.Close()
		path := filepath.Join(t.TempDir(), "cp.json")

		out, err := runCLI(t, "--api", srv.URL, "sync", "--yes", "--checkpoint-file", path)
		require.NoError(t, err)

		assert.Contains(t, out, "Sync completed in 3 page(s)")
		assert.Contains(t, out, "1,200")
		assert.NoFileExists(t, path)
		require.Len(t, server.requests, 3)
		assert.Empty(t, server.requests[0].SessionID)
		assert.Equal(t, "session-1", server.requests[1].SessionID)
		assert.Equal(t, 1000, *server.requests[2].Offset)
	})

	t.Run("should keep the checkpoint when a page fails and resume from it", func(t *testing.T) {
		server := &syncServer{total: 1200, failAt: 500}
		srv := httptest.NewServer(server.handler())
		defer srv.Close()
		path := filepath.Join(t.TempDir(), "cp.json")

		out, err := runCLI(t, "--api", srv.URL, "sync", "--yes", "--checkpoint-file", path)
		require.Error(t, err)

		var apiErr *syncclient.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "PermissionDenied", apiErr.Code)
		assert.Contains(t, out, "Sync paused after 1 page(s)")
		assert.Contains(t, out, "GRANT INSERT ON churches TO lily;")
		assert.FileExists(t, path)

		status, err := runCLI(t, "--api", srv.URL, "sync", "status", "--checkpoint-file", path)
		require.NoError(t, err)
		assert.Contains(t, status, "Next offset: 500 (page 1)")

		server.mu.Lock()
		server.failAt = 0
		server.mu.Unlock()
		out, err = runCLI(t, "--api", srv.URL, "sync", "--yes", "--checkpoint-file", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Sync completed in 2 page(s) (resumed)")
		assert.Equal(t, 500, *server.requests[len(server.requests)-2].Offset)
		assert.NoFileExists(t, path)
	})

	t.Run("should release the session on reset", func(t *testing.T) {
		server := &syncServer{total: 1200, failAt: 1000}
		srv := httptest.NewServer(server.handler())
		defer srv.Close()
		path := filepath.Join(t.TempDir(), "cp.json")

		_, err := runCLI(t, "--api", srv.URL, "sync", "--yes", "--checkpoint-file", path)
		require.Error(t, err)

		out, err := runCLI(t, "--api", srv.URL, "sync", "reset", "--checkpoint-file", path)
		require.NoError(t, err)

		assert.Contains(t, out, "Checkpoint discarded.")
		assert.Equal(t, []string{"session-1"}, server.released)
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("should report when nothing is stored", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cp.json")

		out, err := runCLI(t, "sync", "status", "--checkpoint-file", path)
		require.NoError(t, err)

		assert.Contains(t, out, "No sync in progress.")
	})
}

func TestImportCommand(t *testing.T) {
	t.Run("should upload the file and print the report", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			file, header, err := r.FormFile("file")
			if err != nil || header.Filename != "churches.csv" {
				http.Error(w, "missing file", http.StatusBadRequest)
				return
			}
			defer file.Close()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(models.ImportReport{Format: "csv", Rows: 1500, Inserted: 1500})
		}))
		defer srv.Close()

		path := filepath.Join(t.TempDir(), "churches.csv")
		require.NoError(t, os.WriteFile(path, []byte("name,diocese,country_iso\nSt Mary,Jakarta,ID\n"), 0o600))

		out, err := runCLI(t, "--api", srv.URL, "import", path)
		require.NoError(t, err)

		assert.Contains(t, out, "Imported 1,500 of 1,500 csv rows.")
	})

	t.Run("should list every rejected row", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": "import rejected",
				"meta": map[string]any{
					"code":    "InvalidImport",
					"details": []string{"line 2: unknown country XX", "line 3: name is required"},
				},
			})
		}))
		defer srv.Close()

		path := filepath.Join(t.TempDir(), "churches.csv")
		require.NoError(t, os.WriteFile(path, []byte("name,diocese,country_iso\n"), 0o600))

		out, err := runCLI(t, "--api", srv.URL, "import", path)
		require.Error(t, err)

		assert.Contains(t, out, "2 problem(s)")
		assert.Contains(t, out, "line 2: unknown country XX")
		assert.Contains(t, out, "line 3: name is required")
	})

	t.Run("should require a file argument", func(t *testing.T) {
		_, err := runCLI(t, "import")
		assert.Error(t, err)
	})
}
