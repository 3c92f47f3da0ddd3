package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/palmreader/internal/session"
	"github.com/ayusman/palmreader/internal/store"
)

// fakeReader is an in-memory controller.
type fakeReader struct {
	mu      sync.Mutex
	view    session.View
	busy    bool
	preview []byte
	subs    map[int]session.Observer
	next    int
	started chan context.Context
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		view:    session.View{State: session.StateIdle},
		subs:    make(map[int]session.Observer),
		started: make(chan context.Context, 4),
	}
}

func (f *fakeReader) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return session.ErrBusy
	}
	f.busy = true
	f.mu.Unlock()
	f.started <- ctx
	f.emit(session.View{State: session.StateAcquiring, SessionID: "s-1"})
	return nil
}

func (f *fakeReader) Reset() error {
	if f.Busy() {
		return session.ErrBusy
	}
	f.emit(session.View{State: session.StateIdle})
	return nil
}

func (f *fakeReader) View() session.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeReader) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeReader) Preview() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preview
}

func (f *fakeReader) setPreview(b []byte) {
	f.mu.Lock()
	f.preview = b
	f.mu.Unlock()
}

func (f *fakeReader) Subscribe(fn session.Observer) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeReader) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeReader) emit(v session.View) {
	f.mu.Lock()
	f.view = v
	var subs []session.Observer
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
}

func TestServer_Health(t *testing.T) {
	s := New(Config{Reader: newFakeReader()})
	defer s.Close()

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, "ok", response["status"])
		assert.Contains(t, response, "uptime")
		assert.Equal(t, false, response["busy"])
		assert.Equal(t, "idle", response["state"])
	})

	t.Run("only allows GET method", func(t *testing.T) {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(method, "/api/health", nil))
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Optional routes are absent without their dependencies.
	for _, path := range []string{"/api/read", "/api/readings", "/metrics", "/"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	testContent := "<html><body>Palm reader</body></html>"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(testContent), 0644))

	s := New(Config{StaticDir: dir})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testContent, rec.Body.String())

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nonexistent.html", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ReadRunsOutsideRequest(t *testing.T) {
	reader := newFakeReader()
	s := New(Config{Reader: reader})
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/read", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx := <-reader.started
	assert.NoError(t, ctx.Err(), "session context must survive the request")

	resp, err = http.Post(ts.URL+"/api/read", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	s.Close()
	assert.Error(t, ctx.Err(), "closing the server cancels running sessions")
}

func TestServer_Readings(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Readings().Record(context.Background(), session.View{
		State:      session.StateDone,
		SessionID:  "s-1",
		Prediction: "A new journey begins",
	}))

	s := New(Config{History: st.Readings()})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/readings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Readings []store.Reading `json:"readings"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Readings, 1)
	assert.Equal(t, "A new journey begins", body.Readings[0].Prediction)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "palmreader_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := New(Config{Gatherer: reg})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "palmreader_test_total 1")
}

func TestServer_Events(t *testing.T) {
	reader := newFakeReader()
	s := New(Config{Reader: reader})
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	first := readEvent()
	assert.Equal(t, "view", first.Type)
	assert.Equal(t, session.StateIdle, first.View.State)

	require.Eventually(t, func() bool { return s.events.Clients() == 1 }, time.Second, 5*time.Millisecond)

	reader.emit(session.View{State: session.StateCountdown, Countdown: 3, CameraVisible: true})
	ev := readEvent()
	assert.Equal(t, session.StateCountdown, ev.View.State)
	assert.Equal(t, 3, ev.View.Countdown)

	reader.emit(session.View{State: session.StateDone, Prediction: "Patience"})
	ev = readEvent()
	assert.Equal(t, "Patience", ev.View.Prediction)

	conn.Close()
	require.Eventually(t, func() bool { return s.events.Clients() == 0 }, time.Second, 5*time.Millisecond)

	s.Close()
	assert.Equal(t, 0, reader.subscribers())
}

func TestServer_EventsDropStaleViews(t *testing.T) {
	reader := newFakeReader()
	s := New(Config{Reader: reader})
	defer s.Close()
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}
	readEvent()
	require.Eventually(t, func() bool { return s.events.Clients() == 1 }, time.Second, 5*time.Millisecond)

	// The next session's first view overtakes the previous Done.
	reader.emit(session.View{State: session.StateAcquiring, SessionID: "s-2", Seq: 8})
	reader.emit(session.View{State: session.StateDone, SessionID: "s-1", Prediction: "late", Seq: 7})
	reader.emit(session.View{State: session.StateDetecting, SessionID: "s-2", Seq: 9})

	ev := readEvent()
	assert.Equal(t, session.StateAcquiring, ev.View.State)
	ev = readEvent()
	assert.Equal(t, session.StateDetecting, ev.View.State)
	assert.Equal(t, uint64(9), ev.View.Seq)
}

func TestServer_Stream(t *testing.T) {
	reader := newFakeReader()
	s := New(Config{Reader: reader, StreamFPS: 100})
	ts := httptest.NewServer(s)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)

	frame := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	reader.setPreview(frame)

	part, err := multipart.NewReader(resp.Body, params["boundary"]).NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

	// A part ends at the next boundary, so publish a second frame.
	reader.setPreview([]byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9})
	got, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestServer_StreamMethodNotAllowed(t *testing.T) {
	s := New(Config{Reader: newFakeReader()})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stream", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_ListenAndServe(t *testing.T) {
	s := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
