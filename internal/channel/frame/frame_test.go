package frame

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	f, err := Decode([]byte(`42["new_message",{"messageId":"m1","chatId":"c1"}]`))
	require.NoError(t, err)
	require.Equal(t, Event, f.Type)
	require.Equal(t, "new_message", f.Name)
	require.JSONEq(t, `{"messageId":"m1","chatId":"c1"}`, string(f.Payload))
}

func TestDecodeEventWithAckIDAndNamespace(t *testing.T) {
	f, err := Decode([]byte(`42/chat,17["join_chat",{"chatId":"c9"}]`))
	require.NoError(t, err)
	require.Equal(t, Event, f.Type)
	require.Equal(t, "join_chat", f.Name)
	require.JSONEq(t, `{"chatId":"c9"}`, string(f.Payload))
}

func TestDecodeEventWithoutPayload(t *testing.T) {
	f, err := Decode([]byte(`42["connected"]`))
	require.NoError(t, err)
	require.Equal(t, "connected", f.Name)
	require.Nil(t, f.Payload)
}

func TestDecodeControlFrames(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{`0{"sid":"abc","pingInterval":25000}`, Open},
		{`1`, Close},
		{`2`, Ping},
		{`3`, Pong},
		{`40{"sid":"xyz"}`, Connect},
		{`41`, Disconnect},
		{`44{"message":"bad token"}`, ConnectError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			require.Equal(t, tt.want, f.Type)
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, in := range []string{``, `9`, `4`, `42{"not":"array"}`, `42[]`, `42[1,2]`, `42[oops`} {
		_, err := Decode([]byte(in))
		require.Error(t, err, "input %q", in)
	}
	_, err := Decode([]byte(`42[]`))
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestEncodeEventRoundTrip(t *testing.T) {
	b, err := EncodeEvent("send_message", map[string]string{"messageId": "m2"})
	require.NoError(t, err)
	require.Equal(t, `42["send_message",{"messageId":"m2"}]`, string(b))

	f, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, "send_message", f.Name)
}

func TestHandshake(t *testing.T) {
	b, err := EncodeOpen(Handshake{SID: "s1", PingInterval: 25000, PingTimeout: 20000})
	require.NoError(t, err)
	f, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, Open, f.Type)

	h, err := ParseHandshake(f.Data)
	require.NoError(t, err)
	require.Equal(t, "s1", h.SID)
	require.Equal(t, 25000, h.PingInterval)
}

func TestErrorMessage(t *testing.T) {
	require.Equal(t, "Chat not found", ErrorMessage([]byte(`{"message":"Chat not found"}`)))
	require.Equal(t, "plain", ErrorMessage([]byte(`"plain"`)))
	require.Equal(t, `[1]`, ErrorMessage([]byte(`[1]`)))
}

func TestConnectFrames(t *testing.T) {
	b, err := EncodeConnect(nil)
	require.NoError(t, err)
	require.Equal(t, "40", string(b))

	b = EncodeConnectError("Invalid authentication token")
	f, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, ConnectError, f.Type)
	require.Equal(t, "Invalid authentication token", ErrorMessage(f.Data))
}
