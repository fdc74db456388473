//go:build unix

package app_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/app"
	"github.com/JakeFAU/webarc/internal/capture"
	"github.com/JakeFAU/webarc/internal/config"
)

func TestCaptureReachesObservers(t *testing.T) {
	t.Parallel()

	outcomes := make(chan capture.Outcome, 1)
	obs := capture.ObserverFunc(func(_ context.Context, o capture.Outcome) error {
		outcomes <- o
		return nil
	})
	a, err := app.New(context.Background(), testConfig(t), "v", zap.NewNop(), app.WithObserver(obs))
	require.NoError(t, err)
	defer func() {
		// The job goroutine returns just after the last observer.
		require.Eventually(t, func() bool { return a.Close() == nil }, 5*time.Second, 10*time.Millisecond)
	}()

	req := httptest.NewRequest(http.MethodPost, "/capture/create",
		strings.NewReader(`{"url":"https://example.com/x","extractor":"echo"}`))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	select {
	case o := <-outcomes:
		require.Equal(t, capture.StatusCompleted, o.Status)
		require.Equal(t, "echo", o.Extractor)
		require.Equal(t, len("https://example.com/x"), o.Bytes)

		blob, err := os.Open(o.BlobPath)
		require.NoError(t, err)
		defer blob.Close()
		body, err := io.ReadAll(blob)
		require.NoError(t, err)
		require.Equal(t, "https://example.com/x", string(body))
	case <-time.After(10 * time.Second):
		t.Fatal("observer was not called")
	}
}

func TestMixedCaseExtractorNameResolves(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	configYAML := `
auth:
  tokens: ["tok"]
extractors:
  SingleFile:
    path: /bin/sh
    args: ["-c", "printf '%s' \"$0\""]
storage:
  blob_dir: ` + filepath.Join(dir, "blobs") + `
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	outcomes := make(chan capture.Outcome, 1)
	obs := capture.ObserverFunc(func(_ context.Context, o capture.Outcome) error {
		outcomes <- o
		return nil
	})
	a, err := app.New(context.Background(), cfg, "v", zap.NewNop(), app.WithObserver(obs))
	require.NoError(t, err)
	defer func() {
		require.Eventually(t, func() bool { return a.Close() == nil }, 5*time.Second, 10*time.Millisecond)
	}()

	create := func(name string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/capture/create",
			strings.NewReader(`{"url":"https://example.com/","extractor":"`+name+`"}`))
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := create("singlefile")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"result":"invalid_extractor"}`, rec.Body.String())

	rec = create("SingleFile")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	select {
	case o := <-outcomes:
		require.Equal(t, capture.StatusCompleted, o.Status)
		require.Equal(t, "SingleFile", o.Extractor)
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not finish")
	}
}
