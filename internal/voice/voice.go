// Package voice adapts speech capture and playback for the voice loop.
package voice

import (
	"context"
	"fmt"
	"time"
)

// Capture failure reasons.
const (
	ReasonTimeout           = "timeout"
	ReasonUnintelligible    = "unintelligible"
	ReasonUnavailable       = "service_unavailable"
	ReasonDeviceUnavailable = "device_unavailable"
)

// CaptureError is a capture attempt that produced no text. None of the
// reasons are fatal; the loop simply retries.
type CaptureError struct {
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("voice capture %s: %v", e.Reason, e.Err)
	}
	return "voice capture " + e.Reason
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Recognizer captures one utterance and returns its text.
type Recognizer interface {
	Capture(ctx context.Context) (string, error)
}

// Speaker says text out loud and returns once playback has finished.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Clip is one recorded phrase.
type Clip struct {
	Data     []byte
	Filename string
	Duration time.Duration
}

// AudioSource yields recorded phrases, typically from a browser over a
// websocket. maxPhrase tells the recorder when to cut a phrase off.
type AudioSource interface {
	NextClip(ctx context.Context, maxPhrase time.Duration) (Clip, error)
}

// AudioSink plays synthesized audio or asks the client to speak text
// itself. Both block until playback is done.
type AudioSink interface {
	PlayAudio(ctx context.Context, contentType string, audio []byte) error
	SpeakText(ctx context.Context, text string) error
}
