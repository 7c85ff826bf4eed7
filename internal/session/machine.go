package session

import "fmt"

type State string

const (
	Idle               State = "idle"
	AwaitingVoiceInput State = "awaiting_voice_input"
	Listening          State = "listening"
	Processing         State = "processing"
	Displaying         State = "displaying"
)

// TransitionError reports an event that is not valid in the current state.
type TransitionError struct {
	From  State
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: %s not allowed while %s", e.Event, e.From)
}

// Machine is the voice/turn state machine. shouldListen is only ever true
// while voice mode is active.
type Machine struct {
	state        State
	voiceActive  bool
	shouldListen bool
}

func (m *Machine) State() State {
	if m.state == "" {
		return Idle
	}
	return m.state
}

func (m *Machine) VoiceActive() bool  { return m.voiceActive }
func (m *Machine) ShouldListen() bool { return m.shouldListen }

func (m *Machine) fail(event string) error {
	return &TransitionError{From: m.State(), Event: event}
}

// EnableVoice turns voice mode on. It reports false when voice mode was
// already active.
func (m *Machine) EnableVoice() bool {
	if m.voiceActive {
		return false
	}
	m.voiceActive = true
	m.shouldListen = true
	if s := m.State(); s != Processing {
		m.state = AwaitingVoiceInput
	}
	return true
}

// Listen starts a capture window.
func (m *Machine) Listen() error {
	if !m.shouldListen {
		return m.fail("listen")
	}
	switch m.State() {
	case AwaitingVoiceInput, Displaying:
		m.state = Listening
		return nil
	}
	return m.fail("listen")
}

// Capture accepts a recognized utterance from the open capture window.
func (m *Machine) Capture() error {
	if m.State() != Listening {
		return m.fail("capture")
	}
	m.state = Processing
	return nil
}

// Miss closes a capture window that produced nothing; the loop retries.
func (m *Machine) Miss() error {
	if m.State() != Listening {
		return m.fail("miss")
	}
	m.state = AwaitingVoiceInput
	return nil
}

// BeginTyped starts processing a typed utterance.
func (m *Machine) BeginTyped() error {
	if m.State() == Processing {
		return m.fail("typed input")
	}
	m.state = Processing
	return nil
}

// Finish ends a turn. The machine rests in Displaying while voice mode is
// on and falls back to Idle otherwise.
func (m *Machine) Finish() error {
	if m.State() != Processing {
		return m.fail("finish")
	}
	if m.voiceActive {
		m.state = Displaying
	} else {
		m.state = Idle
	}
	return nil
}

// DisableVoice turns voice mode off from any state. A turn in progress keeps
// its Processing state and ends in Idle.
func (m *Machine) DisableVoice() {
	m.voiceActive = false
	m.shouldListen = false
	if m.State() != Processing {
		m.state = Idle
	}
}
