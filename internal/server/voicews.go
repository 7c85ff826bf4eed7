package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voyager-backend/internal/controller"
	"voyager-backend/internal/session"
	"voyager-backend/internal/types"
	"voyager-backend/internal/voice"
)

const (
	wsReadLimit    = 16 << 20
	wsWriteTimeout = 10 * time.Second
	// playbackTimeout bounds how long we wait for the client to finish
	// playing one reply.
	playbackTimeout = 2 * time.Minute
)

var errConnClosed = errors.New("voice connection closed")

// voiceConn carries one browser's microphone and speaker over a websocket.
// It serves as the session's AudioSource, AudioSink and TurnObserver.
type voiceConn struct {
	ws     *websocket.Conn
	ctx    context.Context
	logger zerolog.Logger

	writeMu sync.Mutex
	seq     atomic.Int64

	metaMu sync.Mutex
	meta   types.WSMessage

	clips    chan voice.Clip
	acks     chan string
	turns    chan session.Turn
	commands chan types.WSMessage
}

func newVoiceConn(ctx context.Context, ws *websocket.Conn, logger zerolog.Logger) *voiceConn {
	return &voiceConn{
		ws:       ws,
		ctx:      ctx,
		logger:   logger,
		clips:    make(chan voice.Clip, 1),
		acks:     make(chan string, 4),
		turns:    make(chan session.Turn, 16),
		commands: make(chan types.WSMessage, 8),
	}
}

func (v *voiceConn) send(msg types.WSMessage) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.writeLocked(msg)
}

func (v *voiceConn) writeLocked(msg types.WSMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	ctx, cancel := context.WithTimeout(v.ctx, wsWriteTimeout)
	defer cancel()
	return v.ws.Write(ctx, websocket.MessageText, b)
}

// NextClip asks the client to record and waits for the phrase. Clips that
// arrived before the request are dropped. When ctx ends first the client is
// told to stop recording.
func (v *voiceConn) NextClip(ctx context.Context, maxPhrase time.Duration) (voice.Clip, error) {
	select {
	case <-v.clips:
	default:
	}
	if err := v.send(types.WSMessage{Type: "listen", MaxPhraseMS: maxPhrase.Milliseconds()}); err != nil {
		return voice.Clip{}, errors.Wrap(err, "request clip")
	}
	select {
	case clip := <-v.clips:
		return clip, nil
	case <-v.ctx.Done():
		return voice.Clip{}, errConnClosed
	case <-ctx.Done():
		_ = v.send(types.WSMessage{Type: "listen_stop"})
		return voice.Clip{}, ctx.Err()
	}
}

// PlayAudio sends an "audio" frame followed by the binary payload and
// waits for the client to report that playback finished.
func (v *voiceConn) PlayAudio(ctx context.Context, contentType string, audio []byte) error {
	id := v.nextID()
	v.writeMu.Lock()
	err := v.writeLocked(types.WSMessage{Type: "audio", ID: id, ContentType: contentType})
	if err == nil {
		wctx, cancel := context.WithTimeout(v.ctx, wsWriteTimeout)
		err = v.ws.Write(wctx, websocket.MessageBinary, audio)
		cancel()
	}
	v.writeMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "send audio")
	}
	return v.awaitPlayback(ctx, id)
}

// SpeakText asks the client to speak text with its own engine.
func (v *voiceConn) SpeakText(ctx context.Context, text string) error {
	id := v.nextID()
	if err := v.send(types.WSMessage{Type: "speak", ID: id, Text: text}); err != nil {
		return errors.Wrap(err, "send speech")
	}
	return v.awaitPlayback(ctx, id)
}

func (v *voiceConn) awaitPlayback(ctx context.Context, id string) error {
	timer := time.NewTimer(playbackTimeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-v.acks:
			if ack == id {
				return nil
			}
		case <-timer.C:
			v.logger.Warn().Str("id", id).Msg("playback not acknowledged")
			return nil
		case <-v.ctx.Done():
			return errConnClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TurnCommitted queues the turn for the client. Turns are dropped when the
// client is not keeping up.
func (v *voiceConn) TurnCommitted(t session.Turn) {
	select {
	case v.turns <- t:
	default:
		v.logger.Warn().Msg("turn frame dropped")
	}
}

func (v *voiceConn) nextID() string {
	return strconv.FormatInt(v.seq.Add(1), 10)
}

// offerClip keeps only the newest clip.
func (v *voiceConn) offerClip(c voice.Clip) {
	select {
	case v.clips <- c:
		return
	default:
	}
	select {
	case <-v.clips:
	default:
	}
	select {
	case v.clips <- c:
	default:
	}
}

func (v *voiceConn) pumpTurns() {
	for {
		select {
		case <-v.ctx.Done():
			return
		case t := <-v.turns:
			if err := v.send(types.WSMessage{Type: "turn", Turn: &t}); err != nil {
				v.logger.Debug().Err(err).Msg("turn frame failed")
				return
			}
		}
	}
}

// runCommands applies client commands in order, off the read loop so a slow
// turn does not hold back playback acknowledgements.
func (v *voiceConn) runCommands(ctrl *controller.Controller) {
	for {
		select {
		case <-v.ctx.Done():
			return
		case msg := <-v.commands:
			var ev controller.Event
			switch msg.Type {
			case "voice_mode":
				ev = controller.VoiceToggled{On: msg.On != nil && *msg.On}
			case "text":
				ev = controller.UtteranceReceived{Text: msg.Text, Source: session.SourceTyped}
			default:
				continue
			}
			ctx, cancel := context.WithTimeout(v.ctx, turnTimeout)
			reply, err := ctrl.Submit(ctx, ev)
			cancel()
			if err != nil {
				_ = v.send(types.WSMessage{Type: "error", ID: msg.ID, Error: err.Error()})
				continue
			}
			_ = v.send(types.WSMessage{Type: "state", ID: msg.ID, Session: &reply.Snapshot})
		}
	}
}

// readLoop dispatches client frames until the connection fails.
func (v *voiceConn) readLoop() {
	for {
		typ, data, err := v.ws.Read(v.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || v.ctx.Err() != nil {
				v.logger.Debug().Msg("voice websocket closed by client")
			} else {
				v.logger.Warn().Err(err).Msg("voice websocket read error")
			}
			return
		}
		if typ == websocket.MessageBinary {
			v.metaMu.Lock()
			meta := v.meta
			v.meta = types.WSMessage{}
			v.metaMu.Unlock()
			v.offerClip(voice.Clip{
				Data:     data,
				Filename: meta.Filename,
				Duration: time.Duration(meta.DurationMS) * time.Millisecond,
			})
			continue
		}

		var msg types.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = v.send(types.WSMessage{Type: "error", Error: "invalid frame"})
			continue
		}
		switch msg.Type {
		case "clip":
			v.metaMu.Lock()
			v.meta = msg
			v.metaMu.Unlock()
		case "playback_done":
			select {
			case v.acks <- msg.ID:
			default:
			}
		case "voice_mode", "text":
			select {
			case v.commands <- msg:
			default:
				_ = v.send(types.WSMessage{Type: "error", ID: msg.ID, Error: "too many pending commands"})
			}
		case "ping":
			_ = v.send(types.WSMessage{Type: "pong", ID: msg.ID})
		default:
			_ = v.send(types.WSMessage{Type: "error", ID: msg.ID, Error: "unknown frame type " + strconv.Quote(msg.Type)})
		}
	}
}

// GET /ws/voice
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	ctrl := s.session(w, r)
	logger := log.With().Str("component", "voice-ws").Str("session_id", ctrl.ID()).Logger()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		logger.Error().Err(err).Msg("failed to accept websocket")
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	v := newVoiceConn(ctx, ws, logger)

	var rec voice.Recognizer
	if s.stt != nil {
		rec = voice.NewWhisperRecognizer(v, s.stt, s.cfg.STTModel, s.cfg.ListenTimeout, s.cfg.PhraseLimit)
	}
	var speaker voice.Speaker = voice.NewBrowserSpeaker(v)
	if s.tts.Configured() {
		speaker = voice.FallbackSpeaker{Primary: voice.NewElevenLabsSpeaker(s.tts, v), Secondary: speaker}
	}

	reply, err := ctrl.Submit(ctx, controller.VoiceAttached{Recognizer: rec, Speaker: speaker, Observer: v})
	if err != nil {
		logger.Warn().Err(err).Msg("attach voice failed")
		_ = ws.Close(websocket.StatusTryAgainLater, "session unavailable")
		return
	}
	logger.Info().Bool("stt", rec != nil).Bool("tts", s.tts.Configured()).Msg("voice connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		v.pumpTurns()
	}()
	go func() {
		defer wg.Done()
		v.runCommands(ctrl)
	}()

	if err := v.send(types.WSMessage{Type: "state", Session: &reply.Snapshot}); err == nil {
		v.readLoop()
	}

	cancel()
	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := ctrl.Submit(dctx, controller.VoiceDetached{Observer: v}); err != nil && !errors.Is(err, controller.ErrClosed) {
		logger.Warn().Err(err).Msg("detach voice failed")
	}
	dcancel()
	wg.Wait()
	_ = ws.Close(websocket.StatusNormalClosure, "session ended")
	logger.Info().Msg("voice disconnected")
}
