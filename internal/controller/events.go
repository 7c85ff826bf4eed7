package controller

import (
	"voyager-backend/internal/intent"
	"voyager-backend/internal/session"
	"voyager-backend/internal/voice"
)

// Event is anything the session actor can process.
type Event interface {
	eventName() string
}

// UtteranceReceived is a typed message or a transcribed voice phrase.
type UtteranceReceived struct {
	Text   string
	Source session.Source

	window *captureWindow
}

// VoiceToggled turns voice mode on or off.
type VoiceToggled struct {
	On bool
}

// ListenRequested opens a capture window. The voice loop sends it.
type ListenRequested struct {
	window *captureWindow
}

// CaptureMissed closes a capture window that produced no text.
type CaptureMissed struct {
	Reason string

	window *captureWindow
}

// SearchRequested runs a search from a form, outside the conversation.
type SearchRequested struct {
	Kind   intent.Kind
	Params intent.Params
}

type CartAdd struct {
	Item session.CartItem
}

type CartRemove struct {
	ID string
}

type CartClear struct{}

type CartOpen struct{}

// CartClose hides the cart and drops out of checkout. Items are kept.
type CartClose struct{}

type CheckoutBegin struct{}

type CheckoutCancel struct{}

type ConversationCleared struct{}

type SnapshotRequested struct{}

// TurnObserver is told about every committed turn. It must not block.
type TurnObserver interface {
	TurnCommitted(t session.Turn)
}

// VoiceAttached connects capture and playback for the session, usually a
// websocket. A nil Recognizer leaves voice mode without a listen loop.
type VoiceAttached struct {
	Recognizer voice.Recognizer
	Speaker    voice.Speaker
	Observer   TurnObserver
}

// VoiceDetached disconnects voice I/O and turns voice mode off. Observer
// names the connection going away; the event is ignored when a different
// connection has attached since. Observers must be comparable.
type VoiceDetached struct {
	Observer TurnObserver
}

func (UtteranceReceived) eventName() string   { return "utterance" }
func (VoiceToggled) eventName() string        { return "voice_toggled" }
func (ListenRequested) eventName() string     { return "listen" }
func (CaptureMissed) eventName() string       { return "capture_missed" }
func (SearchRequested) eventName() string     { return "search" }
func (CartAdd) eventName() string             { return "cart_add" }
func (CartRemove) eventName() string          { return "cart_remove" }
func (CartClear) eventName() string           { return "cart_clear" }
func (CartOpen) eventName() string            { return "cart_open" }
func (CartClose) eventName() string           { return "cart_close" }
func (CheckoutBegin) eventName() string       { return "checkout_begin" }
func (CheckoutCancel) eventName() string      { return "checkout_cancel" }
func (ConversationCleared) eventName() string { return "conversation_cleared" }
func (SnapshotRequested) eventName() string   { return "snapshot" }
func (VoiceAttached) eventName() string       { return "voice_attached" }
func (VoiceDetached) eventName() string       { return "voice_detached" }
