package model

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage_Valid(t *testing.T) {
	raw := []byte(`{"id":42,"fromUserId":1,"fromUserName":"ana","toUserId":2,"toUserName":"landlord",
		"content":"is the room free?","type":"direct","date":"2026-03-01T10:00:00Z","clientId":"abc"}`)

	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.ID)
	assert.Equal(t, int64(1), msg.FromUserID)
	assert.Equal(t, "landlord", msg.ToUserName)
	assert.Equal(t, "abc", msg.ClientID)
	assert.False(t, msg.Pending)
	assert.Equal(t, "42", msg.Key())
}

func TestParseMessage_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":     `hello`,
		"missing id":   `{"fromUserId":1,"toUserId":2,"date":"2026-03-01T10:00:00Z"}`,
		"missing from": `{"id":1,"toUserId":2,"date":"2026-03-01T10:00:00Z"}`,
		"missing date": `{"id":1,"fromUserId":1,"toUserId":2}`,
		"bad date":     `{"id":1,"fromUserId":1,"toUserId":2,"date":"yesterday"}`,
		"wrong types":  `{"id":"x","fromUserId":1,"toUserId":2,"date":"2026-03-01T10:00:00Z"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestNewPending_UsesDisjointNamespace(t *testing.T) {
	now := time.Now()
	a := NewPending(1, 2, "hi", now)
	b := NewPending(1, 2, "hi", now)

	assert.True(t, a.Pending)
	assert.True(t, IsPendingID(a.Key()))
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, PendingPrefix+a.ClientID, a.PendingID)

	_, err := strconv.ParseInt(a.Key(), 10, 64)
	assert.Error(t, err)
}

func TestOutbound_WireShape(t *testing.T) {
	data, err := json.Marshal(NewOutbound(7, "hello", "c-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":7,"content":"hello","type":"direct","clientId":"c-1"}`, string(data))

	out, err := ParseOutbound(data)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.To)
}

func TestParseOutbound_Rejects(t *testing.T) {
	for _, raw := range []string{
		`{"to":0,"content":"x","type":"direct"}`,
		`{"to":3,"content":"x","type":"group"}`,
		`{"to":3,"content":"   ","type":"direct"}`,
		`{`,
	} {
		_, err := ParseOutbound([]byte(raw))
		assert.ErrorIs(t, err, ErrInvalidMessage, raw)
	}
}

func TestInvolves(t *testing.T) {
	m := Message{FromUserID: 1, ToUserID: 2}
	assert.True(t, m.Involves(1, 2))
	assert.True(t, m.Involves(2, 1))
	assert.False(t, m.Involves(1, 3))
}

func TestNewPage(t *testing.T) {
	p := NewPage(nil, 0, 50, 101)
	assert.Equal(t, 3, p.TotalPages)
	assert.NotNil(t, p.Content)

	assert.Equal(t, 0, NewPage(nil, 0, 0, 10).TotalPages)
}

func TestFormatRelative(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) // a Tuesday

	assert.Equal(t, "11:30", FormatRelative(now.Add(-30*time.Minute), now))
	assert.Equal(t, "15:00", FormatRelative(now.Add(-21*time.Hour), now))
	assert.Equal(t, "Yesterday", FormatRelative(now.Add(-30*time.Hour), now))
	assert.Equal(t, "Saturday", FormatRelative(now.Add(-3*24*time.Hour), now))
	assert.Equal(t, "01/03", FormatRelative(now.Add(-9*24*time.Hour), now))
}

func TestConversationKey(t *testing.T) {
	assert.Equal(t, "dm:3:12", ConversationKey(12, 3))
	assert.Equal(t, ConversationKey(3, 12), ConversationKey(12, 3))
}
