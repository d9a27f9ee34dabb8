package tcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePacket_NewRequest(t *testing.T) {
	line := `{"requestName":"AUTHENTICATION","requestId":1,"requestStatus":false,"requestContent":{"username":"alice","password":"secret"}}`

	p, err := ParsePacket([]byte(line))
	require.NoError(t, err)

	assert.Equal(t, "AUTHENTICATION", p.RequestName)
	assert.Equal(t, int64(1), p.RequestID)
	assert.False(t, p.RequestStatus)
	assert.Equal(t, "alice", p.RequestContent["username"])
	assert.Empty(t, p.Code)
}

func TestParsePacket_IgnoresUnknownFields(t *testing.T) {
	line := `{"requestId":7,"requestStatus":true,"code":"SUCCESS","extra":{"nested":[1,2]},"version":3}`

	p, err := ParsePacket([]byte(line))
	require.NoError(t, err)
	assert.True(t, p.RequestStatus)
	assert.Equal(t, CodeSuccess, p.Code)
	assert.Nil(t, p.RequestContent)
}

func TestParsePacket_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"truncated json", `{"invalid json`},
		{"not json", `not json at all`},
		{"missing requestId", `{"requestName":"X","requestStatus":false}`},
		{"missing requestStatus", `{"requestName":"X","requestId":1}`},
		{"non-integer requestId", `{"requestId":"one","requestStatus":false}`},
		{"fractional requestId", `{"requestId":1.5,"requestStatus":false}`},
		{"content not an object", `{"requestId":1,"requestStatus":false,"requestContent":[1,2]}`},
		{"json array", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket([]byte(tt.line))
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestPacket_String(t *testing.T) {
	p := &Packet{RequestContent: map[string]any{"username": "alice", "empty": "", "number": 3.0}}

	v, ok := p.String("username")
	assert.True(t, ok)
	assert.Equal(t, "alice", v)

	_, ok = p.String("empty")
	assert.False(t, ok)
	_, ok = p.String("number")
	assert.False(t, ok)
	_, ok = p.String("missing")
	assert.False(t, ok)
}

func TestPacket_AnswerReplacesContent(t *testing.T) {
	conn := newFakeConn("10.0.0.1:5000")
	p := &Packet{
		RequestName:    "AUTHENTICATION",
		RequestID:      4,
		RequestContent: map[string]any{"password": "secret"},
		conn:           conn,
	}

	require.NoError(t, p.SendError(CodeInvalidPassword))

	frames := conn.frames()
	require.Len(t, frames, 1)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(frames[0], &wire))
	assert.Equal(t, "AUTHENTICATION", wire["requestName"])
	assert.Equal(t, float64(4), wire["requestId"])
	assert.Equal(t, true, wire["requestStatus"])
	assert.Equal(t, "INVALID_PASSWORD", wire["code"])
	assert.NotContains(t, wire, "requestContent")
	assert.NotContains(t, string(frames[0]), "secret")
}

func TestPacket_AnswerWithoutConnection(t *testing.T) {
	p := &Packet{RequestID: 1}
	assert.ErrorIs(t, p.SendSuccess(), ErrNoConnection)
}
