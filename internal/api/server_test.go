package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/webarc/internal/auth"
	"github.com/JakeFAU/webarc/internal/capture"
	"github.com/JakeFAU/webarc/internal/extractor"
	"github.com/JakeFAU/webarc/internal/hash/sha256"
	"github.com/JakeFAU/webarc/internal/id/uuid"
	"github.com/JakeFAU/webarc/internal/storage/local"
)

const testToken = "s3cret"

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []capture.Job
}

func (d *recordingDispatcher) Dispatch(job capture.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
}

type testEnv struct {
	server     *Server
	registry   *capture.Registry
	store      *local.BlobStore
	dispatcher *recordingDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := local.New(local.Config{BaseDir: t.TempDir()}, sha256.New())
	require.NoError(t, err)
	reg := capture.NewRegistry()
	dispatcher := &recordingDispatcher{}
	extractors := extractor.NewRegistry(map[string]extractor.Command{
		"echo": {Path: "/bin/echo"},
	})
	svc := capture.NewService(extractors, reg, store, uuid.New(), dispatcher, zap.NewNop())
	server := NewServer(svc, auth.NewGate([]string{testToken}), "1.2.3", zap.NewNop())
	return &testEnv{server: server, registry: reg, store: store, dispatcher: dispatcher}
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_VersionIsPublic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := doRequest(t, env.server.Handler(), http.MethodGet, "/version", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1.2.3", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_HealthChecksArePublic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := doRequest(t, env.server.Handler(), http.MethodGet, path, "", "")
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServer_CaptureRoutesRequireAuth(t *testing.T) {
	t.Parallel()

	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/capture/create", `{"url":"https://example.com","extractor":"echo"}`},
		{http.MethodGet, "/capture/progress/11111111-2222-4333-8444-555555555555", ""},
		{http.MethodPost, "/capture/confirm", `{"ticket":"x","hash":"y"}`},
		{http.MethodGet, "/capture/output/11111111-2222-4333-8444-555555555555", ""},
	}
	headers := map[string]string{
		"missing":      "",
		"wrong token":  "Bearer nope",
		"wrong scheme": "Basic " + testToken,
		"wrong case":   "bearer " + testToken,
		"empty token":  "Bearer ",
	}

	env := newTestEnv(t)
	for _, route := range routes {
		for name, header := range headers {
			req := httptest.NewRequest(route.method, route.path, strings.NewReader(route.body))
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s (%s)", route.method, route.path, name)
			require.Empty(t, rec.Body.String())
		}
	}
	require.Empty(t, env.dispatcher.jobs, "unauthorized create must not dispatch")
	require.Empty(t, env.registry.Counts())
}

func TestServer_CreateInitiates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := doRequest(t, env.server.Handler(), http.MethodPost, "/capture/create", testToken,
		`{"url":"https://example.com/a","extractor":"echo"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeResult(t, rec)
	require.Equal(t, "initiated", out["result"])
	require.NotEmpty(t, out["ticket"])

	require.Len(t, env.dispatcher.jobs, 1)
	require.Equal(t, out["ticket"], env.dispatcher.jobs[0].Ticket)

	rec = doRequest(t, env.server.Handler(), http.MethodGet, "/capture/progress/"+out["ticket"], testToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "in_progress", decodeResult(t, rec)["result"])
}

func TestServer_CreateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKey  string
		wantVal  string
	}{
		{"unknown extractor", `{"url":"https://example.com","extractor":"nope"}`, http.StatusBadRequest, "result", "invalid_extractor"},
		{"relative url", `{"url":"not a url","extractor":"echo"}`, http.StatusBadRequest, "result", "invalid_url"},
		{"bad json", `{"url":`, http.StatusBadRequest, "error", "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			rec := doRequest(t, env.server.Handler(), http.MethodPost, "/capture/create", testToken, tt.body)
			require.Equal(t, tt.wantCode, rec.Code)
			require.Equal(t, tt.wantVal, decodeResult(t, rec)[tt.wantKey])
			require.Empty(t, env.dispatcher.jobs)
			require.Empty(t, env.registry.Counts())
		})
	}
}

func TestServer_UnknownTicket(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	h := env.server.Handler()
	for _, ticket := range []string{"11111111-2222-4333-8444-555555555555", "garbage"} {
		rec := doRequest(t, h, http.MethodGet, "/capture/progress/"+ticket, testToken, "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "no_such_capture", decodeResult(t, rec)["result"])

		rec = doRequest(t, h, http.MethodPost, "/capture/confirm", testToken, `{"ticket":"`+ticket+`","hash":"abc"}`)
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "no_such_capture", decodeResult(t, rec)["result"])

		rec = doRequest(t, h, http.MethodGet, "/capture/output/"+ticket, testToken, "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func TestServer_ConfirmBadJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := doRequest(t, env.server.Handler(), http.MethodPost, "/capture/confirm", testToken, "{")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ConfirmAndOutputCompleted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	h := env.server.Handler()
	const ticket = "11111111-2222-4333-8444-555555555555"
	payload := []byte("captured body")
	require.NoError(t, env.registry.Register(ticket))
	hash, err := env.store.Persist(context.Background(), ticket, payload)
	require.NoError(t, err)
	require.True(t, env.registry.Complete(ticket, hash))

	rec := doRequest(t, h, http.MethodPost, "/capture/confirm", testToken, `{"ticket":"`+ticket+`","hash":"`+hash+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "correct_hash", decodeResult(t, rec)["result"])

	rec = doRequest(t, h, http.MethodPost, "/capture/confirm", testToken, `{"ticket":"`+ticket+`","hash":"deadbeef"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "incorrect_hash", decodeResult(t, rec)["result"])

	rec = doRequest(t, h, http.MethodGet, "/capture/output/"+ticket, testToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "13", rec.Header().Get("Content-Length"))
	require.True(t, bytes.Equal(payload, rec.Body.Bytes()))
}

type failingWriter struct {
	header http.Header
	code   int
}

func (w *failingWriter) Header() http.Header       { return w.header }
func (w *failingWriter) WriteHeader(code int)      { w.code = code }
func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestServer_OutputAbortsOnWriteFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	const ticket = "11111111-2222-4333-8444-555555555555"
	_, err := env.store.Persist(context.Background(), ticket, []byte("payload"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/capture/output/"+ticket, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := &failingWriter{header: http.Header{}}

	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		env.server.Handler().ServeHTTP(w, req)
	})
	require.Equal(t, http.StatusOK, w.code)
}

func TestServer_CreateAdoptsTraceparent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/capture/create",
		strings.NewReader(`{"url":"https://example.com","extractor":"echo"}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, env.server.Handler(), http.MethodPost, "/capture/create", testToken,
		`{"url":"https://example.com","extractor":"echo"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	env.dispatcher.mu.Lock()
	defer env.dispatcher.mu.Unlock()
	require.Len(t, env.dispatcher.jobs, 2)
	traced := env.dispatcher.jobs[0].Trace
	require.True(t, traced.IsRemote())
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traced.TraceID().String())
	require.Equal(t, "00f067aa0ba902b7", traced.SpanID().String())
	require.False(t, env.dispatcher.jobs[1].Trace.IsValid())
}

func TestServer_OutputAbortIsAccessLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, sha256.New())
	require.NoError(t, err)
	svc := capture.NewService(extractor.NewRegistry(nil), capture.NewRegistry(), store, uuid.New(), &recordingDispatcher{}, zap.NewNop())
	server := NewServer(svc, auth.NewGate([]string{testToken}), "1.2.3", zap.New(core))

	const ticket = "11111111-2222-4333-8444-555555555555"
	_, err = store.Persist(context.Background(), ticket, []byte("payload"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/capture/output/"+ticket, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		server.Handler().ServeHTTP(&failingWriter{header: http.Header{}}, req)
	})

	aborted := logs.FilterMessage("request aborted").All()
	require.Len(t, aborted, 1)
	fields := aborted[0].ContextMap()
	require.Equal(t, "/capture/output/"+ticket, fields["path"])
	require.EqualValues(t, http.StatusOK, fields["status"])
	require.Empty(t, logs.FilterMessage("request completed").All())
}

func TestLoggingMiddlewareLogsCompletedRequests(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	h := loggingMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	require.EqualValues(t, http.StatusAccepted, entries[0].ContextMap()["status"])
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}
