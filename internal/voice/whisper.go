package voice

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultListenTimeout = 45 * time.Second
	DefaultPhraseLimit   = 50 * time.Second
)

// Transcriber is the speech-to-text call; *openai.Client satisfies it.
type Transcriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperRecognizer waits for a clip from an AudioSource and transcribes it
// with a Whisper model.
type WhisperRecognizer struct {
	source        AudioSource
	stt           Transcriber
	model         string
	listenTimeout time.Duration
	phraseLimit   time.Duration
}

func NewWhisperRecognizer(source AudioSource, stt Transcriber, model string, listenTimeout, phraseLimit time.Duration) *WhisperRecognizer {
	if listenTimeout <= 0 {
		listenTimeout = DefaultListenTimeout
	}
	if phraseLimit <= 0 {
		phraseLimit = DefaultPhraseLimit
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperRecognizer{source: source, stt: stt, model: model, listenTimeout: listenTimeout, phraseLimit: phraseLimit}
}

func (w *WhisperRecognizer) Capture(ctx context.Context) (string, error) {
	listenCtx, cancel := context.WithTimeout(ctx, w.listenTimeout)
	defer cancel()

	clip, err := w.source.NextClip(listenCtx, w.phraseLimit)
	switch {
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return "", &CaptureError{Reason: ReasonTimeout}
	case err != nil:
		return "", &CaptureError{Reason: ReasonDeviceUnavailable, Err: err}
	}
	if clip.Duration > w.phraseLimit {
		return "", &CaptureError{Reason: ReasonTimeout, Err: errors.Errorf("phrase longer than %s", w.phraseLimit)}
	}
	return w.Transcribe(ctx, clip)
}

// Transcribe converts one clip to text.
func (w *WhisperRecognizer) Transcribe(ctx context.Context, clip Clip) (string, error) {
	if len(clip.Data) == 0 {
		return "", &CaptureError{Reason: ReasonUnintelligible}
	}
	name := clip.Filename
	if name == "" {
		name = "clip.webm"
	}
	tr, err := w.stt.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		Reader:   bytes.NewReader(clip.Data),
		FilePath: name,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &CaptureError{Reason: ReasonUnavailable, Err: err}
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return "", &CaptureError{Reason: ReasonUnintelligible}
	}
	return text, nil
}
