package voice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
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

// gateSpeaker blocks each Speak until released and records overlap.
type gateSpeaker struct {
	mu      sync.Mutex
	started chan string
	release chan struct{}
	active  int
	overlap bool
	said    []string
}

func newGateSpeaker() *gateSpeaker {
	return &gateSpeaker{started: make(chan string, 10), release: make(chan struct{})}
}

func (g *gateSpeaker) Speak(ctx context.Context, text string) error {
	g.mu.Lock()
	g.active++
	if g.active > 1 {
		g.overlap = true
	}
	g.mu.Unlock()
	g.started <- text

	select {
	case <-g.release:
	case <-ctx.Done():
	}

	g.mu.Lock()
	g.active--
	g.said = append(g.said, text)
	g.mu.Unlock()
	return ctx.Err()
}

func TestSpeechQueueReplacesPending(t *testing.T) {
	sp := newGateSpeaker()
	q := NewSpeechQueue(sp)
	defer q.Close()

	require.True(t, q.Enqueue("first"))
	assert.Equal(t, "first", <-sp.started)
	assert.False(t, q.Idle())

	q.Enqueue("second")
	q.Enqueue("third")

	sp.release <- struct{}{}
	assert.Equal(t, "third", <-sp.started)
	sp.release <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))
	assert.True(t, q.Idle())

	sp.mu.Lock()
	assert.Equal(t, []string{"first", "third"}, sp.said)
	assert.False(t, sp.overlap)
	sp.mu.Unlock()

	spoken, replaced := q.Stats()
	assert.Equal(t, 2, spoken)
	assert.Equal(t, 1, replaced)
}

func TestSpeechQueueWaitIdleBlocksWhileSpeaking(t *testing.T) {
	sp := newGateSpeaker()
	q := NewSpeechQueue(sp)
	defer q.Close()

	require.NoError(t, q.WaitIdle(context.Background()))

	q.Enqueue("hello")
	<-sp.started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.WaitIdle(ctx), context.DeadlineExceeded)

	close(sp.release)
	require.NoError(t, q.WaitIdle(context.Background()))
}

func TestSpeechQueueEnqueueAfterWaitsForGate(t *testing.T) {
	sp := newGateSpeaker()
	close(sp.release)
	q := NewSpeechQueue(sp)
	defer q.Close()

	gate := make(chan struct{})
	require.True(t, q.EnqueueAfter("reply", gate))
	assert.False(t, q.Idle())

	select {
	case text := <-sp.started:
		t.Fatalf("%q started before the gate opened", text)
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	assert.Equal(t, "reply", <-sp.started)
	require.NoError(t, q.WaitIdle(context.Background()))
}

func TestSpeechQueueCloseWhileWaitingForGate(t *testing.T) {
	sp := newGateSpeaker()
	q := NewSpeechQueue(sp)
	q.EnqueueAfter("never", make(chan struct{}))

	q.Close()
	require.NoError(t, q.WaitIdle(context.Background()))
	sp.mu.Lock()
	assert.Empty(t, sp.said)
	sp.mu.Unlock()
}

func TestSpeechQueueCloseInterruptsAndRejects(t *testing.T) {
	sp := newGateSpeaker()
	q := NewSpeechQueue(sp)
	q.Enqueue("long speech")
	<-sp.started

	q.Close()
	q.Close()
	assert.False(t, q.Enqueue("after close"))
	require.NoError(t, q.WaitIdle(context.Background()))
}

type fakeSource struct {
	clip  Clip
	err   error
	block bool
	limit time.Duration
}

func (f *fakeSource) NextClip(ctx context.Context, maxPhrase time.Duration) (Clip, error) {
	f.limit = maxPhrase
	if f.block {
		<-ctx.Done()
		return Clip{}, ctx.Err()
	}
	return f.clip, f.err
}

type fakeSTT struct {
	text  string
	err   error
	model string
	calls int
}

func (f *fakeSTT) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.calls++
	f.model = req.Model
	return openai.AudioResponse{Text: f.text}, f.err
}

func reason(t *testing.T, err error) string {
	t.Helper()
	var ce *CaptureError
	require.True(t, errors.As(err, &ce), "got %v", err)
	return ce.Reason
}

func TestWhisperRecognizerOutcomes(t *testing.T) {
	ctx := context.Background()

	stt := &fakeSTT{text: "  find hotels in Rome "}
	src := &fakeSource{clip: Clip{Data: []byte("audio"), Duration: 3 * time.Second}}
	r := NewWhisperRecognizer(src, stt, "whisper-large-v3", time.Second, 0)
	text, err := r.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, "find hotels in Rome", text)
	assert.Equal(t, "whisper-large-v3", stt.model)
	assert.Equal(t, DefaultPhraseLimit, src.limit)

	r = NewWhisperRecognizer(&fakeSource{block: true}, stt, "", 20*time.Millisecond, 0)
	_, err = r.Capture(ctx)
	assert.Equal(t, ReasonTimeout, reason(t, err))

	r = NewWhisperRecognizer(&fakeSource{clip: Clip{Data: []byte("x"), Duration: time.Minute}}, stt, "", time.Second, 50*time.Second)
	_, err = r.Capture(ctx)
	assert.Equal(t, ReasonTimeout, reason(t, err))

	r = NewWhisperRecognizer(&fakeSource{clip: Clip{}}, stt, "", time.Second, 0)
	_, err = r.Capture(ctx)
	assert.Equal(t, ReasonUnintelligible, reason(t, err))

	r = NewWhisperRecognizer(&fakeSource{err: errors.New("mic unplugged")}, stt, "", time.Second, 0)
	_, err = r.Capture(ctx)
	assert.Equal(t, ReasonDeviceUnavailable, reason(t, err))

	r = NewWhisperRecognizer(&fakeSource{clip: Clip{Data: []byte("x")}}, &fakeSTT{err: errors.New("503")}, "", time.Second, 0)
	_, err = r.Capture(ctx)
	assert.Equal(t, ReasonUnavailable, reason(t, err))

	r = NewWhisperRecognizer(&fakeSource{clip: Clip{Data: []byte("x")}}, &fakeSTT{text: " "}, "", time.Second, 0)
	_, err = r.Capture(ctx)
	assert.Equal(t, ReasonUnintelligible, reason(t, err))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	r = NewWhisperRecognizer(&fakeSource{block: true}, stt, "", time.Second, 0)
	_, err = r.Capture(cctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWhisperAgainstOpenAICompatibleServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"book a flight"}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("k")
	cfg.BaseURL = srv.URL
	r := NewWhisperRecognizer(nil, openai.NewClientWithConfig(cfg), "whisper-large-v3", time.Second, 0)
	text, err := r.Transcribe(context.Background(), Clip{Data: []byte("RIFF"), Filename: "a.wav"})
	require.NoError(t, err)
	assert.Equal(t, "book a flight", text)
}

type recordingSink struct {
	mu    sync.Mutex
	audio [][]byte
	texts []string
}

func (s *recordingSink) PlayAudio(_ context.Context, _ string, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, audio)
	return nil
}

func (s *recordingSink) SpeakText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func TestElevenLabsSpeakerPlaysSynthesizedAudio(t *testing.T) {
	var gotKey, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey, gotPath = r.Header.Get("xi-api-key"), r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3mp3"))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	tts := NewElevenLabs("xi", "voice-1", "eleven_turbo_v2", srv.URL, time.Second)
	require.True(t, tts.Configured())
	require.NoError(t, NewElevenLabsSpeaker(tts, sink).Speak(context.Background(), "Hello there"))

	assert.Equal(t, "xi", gotKey)
	assert.Equal(t, "/v1/text-to-speech/voice-1/stream", gotPath)
	assert.Equal(t, "Hello there", gotBody["text"])
	require.Len(t, sink.audio, 1)
	assert.Equal(t, "ID3mp3", string(sink.audio[0]))
}

func TestElevenLabsErrorsAndFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"bad key"}`)
	}))
	defer srv.Close()

	tts := NewElevenLabs("xi", "v", "", srv.URL, time.Second)
	_, err := tts.Voices(context.Background())
	assert.Error(t, err)

	sink := &recordingSink{}
	sp := FallbackSpeaker{Primary: NewElevenLabsSpeaker(tts, sink), Secondary: NewBrowserSpeaker(sink)}
	require.NoError(t, sp.Speak(context.Background(), "fallback please"))
	assert.Equal(t, []string{"fallback please"}, sink.texts)
	assert.Empty(t, sink.audio)

	_, err = NewElevenLabs("", "", "", srv.URL, 0).Synthesize(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestElevenLabsVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"voices":[{"voice_id":"a","name":"Rachel"},{"voice_id":"b","name":"Adam","category":"premade"}]}`)
	}))
	defer srv.Close()

	vs, err := NewElevenLabs("xi", "", "", srv.URL, time.Second).Voices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Voice{{VoiceID: "a", Name: "Rachel"}, {VoiceID: "b", Name: "Adam", Category: "premade"}}, vs)
}
