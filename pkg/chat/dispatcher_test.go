package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/campus-chat/pkg/model"
)

func frame(t *testing.T, msg model.Message) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestDispatcher_DeliversBothDirections(t *testing.T) {
	d := NewDispatcher(1, nil)
	d.SetActive(2)

	var got []model.Message
	d.Subscribe(func(m model.Message) { got = append(got, m) })

	d.HandleInbound(frame(t, confirmed(1, 2, 1, "from landlord", base)))
	d.HandleInbound(frame(t, confirmed(2, 1, 2, "my echo", base)))

	assert.Equal(t, []string{"from landlord", "my echo"}, contents(got))
}

func TestDispatcher_FiltersOtherConversations(t *testing.T) {
	d := NewDispatcher(1, nil)
	d.SetActive(2)

	calls := 0
	d.Subscribe(func(model.Message) { calls++ })

	delivered, err := d.Dispatch(frame(t, confirmed(1, 3, 1, "other counterpart", base)))
	require.NoError(t, err)
	assert.False(t, delivered)

	delivered, err = d.Dispatch(frame(t, confirmed(2, 2, 4, "not for me", base)))
	require.NoError(t, err)
	assert.False(t, delivered)

	assert.Zero(t, calls)
}

func TestDispatcher_NoActiveConversation(t *testing.T) {
	d := NewDispatcher(1, nil)
	calls := 0
	d.Subscribe(func(model.Message) { calls++ })

	d.HandleInbound(frame(t, confirmed(1, 2, 1, "x", base)))
	assert.Zero(t, calls)
	assert.Zero(t, d.Active())
}

func TestDispatcher_DropsMalformed(t *testing.T) {
	d := NewDispatcher(1, nil)
	d.SetActive(2)
	calls := 0
	d.Subscribe(func(model.Message) { calls++ })

	for _, raw := range []string{`not json`, `{"id":1}`, `{"id":1,"fromUserId":2,"toUserId":1}`} {
		_, err := d.Dispatch([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedPayload, raw)
		assert.NotPanics(t, func() { d.HandleInbound([]byte(raw)) })
	}
	assert.Zero(t, calls)
}

func TestDispatcher_UnsubscribeAndReset(t *testing.T) {
	d := NewDispatcher(1, nil)
	d.SetActive(2)

	a, b := 0, 0
	unsubA := d.Subscribe(func(model.Message) { a++ })
	d.Subscribe(func(model.Message) { b++ })

	d.HandleInbound(frame(t, confirmed(1, 2, 1, "x", base)))
	unsubA()
	d.HandleInbound(frame(t, confirmed(2, 2, 1, "y", base)))
	d.Reset()
	d.SetActive(2)
	d.HandleInbound(frame(t, confirmed(3, 2, 1, "z", base)))

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}
