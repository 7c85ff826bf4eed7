package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type captured struct {
	auth  string
	path  string
	event map[string]any
}

type ingestServer struct {
	mu       sync.Mutex
	got      []captured
	failNext bool
}

func (s *ingestServer) handler(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	var ev map[string]any
	_ = json.Unmarshal(b, &ev)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, captured{auth: r.Header.Get("Authorization"), path: r.URL.Path, event: ev})
	if s.failNext {
		s.failNext = false
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *ingestServer) events() []captured {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]captured(nil), s.got...)
}

func TestServiceForwardsEvents(t *testing.T) {
	is := &ingestServer{}
	srv := httptest.NewServer(http.HandlerFunc(is.handler))
	defer srv.Close()

	svc, err := New(Settings{Enabled: true, ServerURL: srv.URL + "/", Token: "tok-123"})
	require.NoError(t, err)
	defer svc.Close()
	require.True(t, svc.Enabled())

	svc.Publish("turn", map[string]any{"sessionId": "s1", "intent": "recipe"})

	require.Eventually(t, func() bool { return len(is.events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := is.events()[0]
	assert.Equal(t, "Bearer tok-123", got.auth)
	assert.Equal(t, "/ingest", got.path)
	assert.Equal(t, "turn", got.event["type"])
	assert.Equal(t, "voyager", got.event["source"])
	assert.Equal(t, map[string]any{"sessionId": "s1", "intent": "recipe"}, got.event["data"])
	_, err = time.Parse(time.RFC3339, got.event["timestamp"].(string))
	assert.NoError(t, err)
}

func TestForwardFailureDoesNotStopDelivery(t *testing.T) {
	is := &ingestServer{failNext: true}
	srv := httptest.NewServer(http.HandlerFunc(is.handler))
	defer srv.Close()

	svc, err := New(Settings{Enabled: true, ServerURL: srv.URL})
	require.NoError(t, err)
	defer svc.Close()

	svc.Publish("first", nil)
	require.Eventually(t, func() bool { return len(is.events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	svc.Publish("second", nil)
	require.Eventually(t, func() bool { return len(is.events()) == 2 }, 2*time.Second, 10*time.Millisecond)

	evs := is.events()
	assert.Equal(t, "", evs[0].auth)
	assert.Equal(t, "second", evs[1].event["type"])
}

func TestForwardReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "bad token")
	}))
	defer srv.Close()

	err := NewForwarder(srv.URL, "x", time.Second).Forward(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad token")
}

func TestDisabledServiceDropsEvents(t *testing.T) {
	svc, err := New(Settings{Enabled: false, ServerURL: "http://unused"})
	require.NoError(t, err)
	assert.False(t, svc.Enabled())
	svc.Publish("turn", "ignored")
	assert.NoError(t, svc.Close())

	var nilSvc *Service
	nilSvc.Publish("turn", nil)
}

func TestEnabledRequiresServerURL(t *testing.T) {
	_, err := New(Settings{Enabled: true})
	assert.Error(t, err)
}

func TestWatermillLoggerAdapter(t *testing.T) {
	var buf syncBuffer
	l := NewWatermillLogger(zerolog.New(&buf)).With(map[string]any{"topic": "t"})
	l.Info("subscribed", map[string]any{"n": 1})
	out := buf.String()
	assert.Contains(t, out, `"topic":"t"`)
	assert.Contains(t, out, `"n":1`)
	assert.Contains(t, out, `"message":"subscribed"`)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
