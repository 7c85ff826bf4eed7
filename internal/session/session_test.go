package session

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voyager-backend/internal/intent"
	"voyager-backend/internal/router"
)

func TestCartAddRemoveRoundTrip(t *testing.T) {
	var c Cart
	c.Add(CartItem{Title: "Adapter", Price: "$12.00", Platform: "ebay"})
	c.Add(CartItem{Title: "Pillow", Price: "3.20", Platform: "aliexpress"})
	before := c.Items()

	added := c.Add(CartItem{Title: "Lock", Price: "9.99"})
	require.NotEmpty(t, added.ID)
	require.False(t, added.AddedAt.IsZero())
	require.True(t, c.Remove(added.ID))

	if diff := cmp.Diff(before, c.Items()); diff != "" {
		t.Fatalf("cart changed after add+remove (-want +got):\n%s", diff)
	}
	assert.False(t, c.Remove("missing"))
}

func TestCartRemoveMiddleKeepsOrder(t *testing.T) {
	var c Cart
	a := c.Add(CartItem{Title: "a"})
	b := c.Add(CartItem{Title: "b"})
	d := c.Add(CartItem{Title: "d"})
	items := c.Items()

	require.True(t, c.Remove(b.ID))
	got := c.Items()
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, d.ID, got[1].ID)
	// Earlier copies are unaffected.
	assert.Equal(t, b.ID, items[1].ID)
}

func TestCartTotalIgnoresNonNumericPrices(t *testing.T) {
	var c Cart
	c.Add(CartItem{Price: "10.00"})
	c.Add(CartItem{Price: "abc"})
	assert.InDelta(t, 10.00, c.Total(), 1e-9)

	c.Add(CartItem{Price: "$1,250.50"})
	c.Add(CartItem{Price: "NaN"})
	c.Add(CartItem{Price: ""})
	assert.InDelta(t, 1260.50, c.Total(), 1e-9)
}

func TestCheckoutRequiresItems(t *testing.T) {
	var c Cart
	c.OpenCart()
	err := c.BeginCheckout()
	var ve *router.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, StageCart, c.Stage())

	c.Add(CartItem{Title: "x"})
	require.NoError(t, c.BeginCheckout())
	assert.Equal(t, StageCheckout, c.Stage())

	c.CloseCart()
	assert.Equal(t, StageNone, c.Stage())
}

func TestConversationStaysOrdered(t *testing.T) {
	var conv Conversation
	now := time.Now()
	conv.Append(Turn{Assistant: "one", Timestamp: now})
	second := conv.Append(Turn{Assistant: "two", Timestamp: now.Add(-time.Minute)})
	assert.Equal(t, now, second.Timestamp)

	params := intent.Params{"query": "pasta"}
	conv.Append(Turn{Assistant: "three", Params: params})
	params["query"] = "changed"

	turns := conv.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "pasta", turns[2].Params["query"])
	assert.NotNil(t, turns[0].Params)

	conv.Clear()
	assert.True(t, conv.Empty())
}

func TestMachineVoiceCycle(t *testing.T) {
	var m Machine
	assert.Equal(t, Idle, m.State())
	assert.Error(t, m.Listen())

	require.True(t, m.EnableVoice())
	assert.False(t, m.EnableVoice())
	assert.Equal(t, AwaitingVoiceInput, m.State())

	require.NoError(t, m.Listen())
	require.NoError(t, m.Miss())
	assert.Equal(t, AwaitingVoiceInput, m.State())

	require.NoError(t, m.Listen())
	require.NoError(t, m.Capture())
	assert.Equal(t, Processing, m.State())
	require.NoError(t, m.Finish())
	assert.Equal(t, Displaying, m.State())

	require.NoError(t, m.Listen())
	assert.Equal(t, Listening, m.State())

	m.DisableVoice()
	assert.Equal(t, Idle, m.State())
	assert.False(t, m.ShouldListen())
	assert.False(t, m.VoiceActive())
}

func TestMachineTypedTurnWithoutVoice(t *testing.T) {
	var m Machine
	require.NoError(t, m.BeginTyped())
	assert.Error(t, m.BeginTyped())
	assert.Error(t, m.Capture())
	require.NoError(t, m.Finish())
	assert.Equal(t, Idle, m.State())
	assert.Error(t, m.Finish())
}

func TestMachineDisableDuringTurn(t *testing.T) {
	var m Machine
	m.EnableVoice()
	require.NoError(t, m.Listen())
	require.NoError(t, m.Capture())

	m.DisableVoice()
	assert.Equal(t, Processing, m.State())
	require.NoError(t, m.Finish())
	assert.Equal(t, Idle, m.State())
}

func TestShouldListenImpliesVoiceActive(t *testing.T) {
	var m Machine
	steps := []func(){
		func() { m.EnableVoice() },
		func() { _ = m.Listen() },
		func() { _ = m.Capture() },
		func() { _ = m.Finish() },
		func() { m.DisableVoice() },
		func() { _ = m.BeginTyped() },
		func() { _ = m.Finish() },
		func() { m.EnableVoice() },
		func() { _ = m.Listen() },
		func() { _ = m.Miss() },
		func() { m.DisableVoice() },
	}
	for i, step := range steps {
		step()
		if m.ShouldListen() {
			assert.True(t, m.VoiceActive(), "step %d", i)
		}
	}
}

func TestSnapshotNeverNil(t *testing.T) {
	s := New("s1", " u1 ")
	snap := s.Snapshot()
	assert.Equal(t, "u1", snap.UserID)
	assert.NotNil(t, snap.Conversation)
	assert.NotNil(t, snap.Cart)
	assert.Equal(t, StageNone, snap.CheckoutStage)
	assert.Equal(t, Idle, snap.State)
}
