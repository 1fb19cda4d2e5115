// ABOUTME: Tests for time protocol messages
// ABOUTME: Verifies frame parsing, malformed payload rejection and URL derivation
package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Frame
		wantErr bool
	}{
		{
			name: "integer timestamp",
			data: `{"serverTime":1700000000000}`,
			want: Frame{ServerTime: 1700000000000, HasTime: true},
		},
		{
			name: "secure flag",
			data: `{"serverTime":5000,"secure":true}`,
			want: Frame{ServerTime: 5000, HasTime: true, Secure: true},
		},
		{
			name: "integral float",
			data: `{"serverTime":1.7e12}`,
			want: Frame{ServerTime: 1700000000000, HasTime: true},
		},
		{
			name: "shutdown notice",
			data: `{"type":"shutdown"}`,
			want: Frame{Type: TypeShutdown},
		},
		{name: "not json", data: `hello`, wantErr: true},
		{name: "missing field", data: `{"foo":1}`, wantErr: true},
		{name: "string timestamp", data: `{"serverTime":"5000"}`, wantErr: true},
		{name: "null timestamp", data: `{"serverTime":null}`, wantErr: true},
		{name: "fractional timestamp", data: `{"serverTime":12.5}`, wantErr: true},
		{name: "timestamp above int64", data: `{"serverTime":1e20}`, wantErr: true},
		{name: "timestamp below int64", data: `{"serverTime":-1e20}`, wantErr: true},
		{name: "timestamp at 2^63", data: `{"serverTime":9.223372036854775808e18}`, wantErr: true},
		{name: "array", data: `[1,2,3]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrame([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrProtocol), "expected ErrProtocol, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimeMessageRejectsNotice(t *testing.T) {
	_, err := ParseTimeMessage([]byte(`{"type":"shutdown"}`))
	assert.ErrorIs(t, err, ErrProtocol)

	ts, err := ParseTimeMessage([]byte(`{"serverTime":42}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), ts)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"command":"getTime"}`))
	require.NoError(t, err)
	assert.Equal(t, CommandGetTime, cmd.Command)

	_, err = ParseCommand([]byte(`{}`))
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = ParseCommand([]byte(`{{`))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestTimeMessageWireFormat(t *testing.T) {
	data, err := json.Marshal(TimeMessage{ServerTime: 1234})
	require.NoError(t, err)
	assert.JSONEq(t, `{"serverTime":1234}`, string(data))

	data, err = json.Marshal(TimeMessage{ServerTime: 1234, Secure: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"serverTime":1234,"secure":true}`, string(data))

	data, err = json.Marshal(Command{Command: CommandGetTime})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"getTime"}`, string(data))
}

func TestPushURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://192.168.1.10/time", "ws://192.168.1.10/ws"},
		{"https://example.com", "wss://example.com/ws"},
		{"https://example.com:8443/time", "wss://example.com:8443/ws"},
		{"wss://example.com/custom", "wss://example.com/custom"},
		{"localhost:8080", "ws://localhost:8080/ws"},
	}

	for _, tt := range tests {
		got, err := PushURL(tt.base)
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got, tt.base)
	}
}

func TestPollURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://192.168.1.10", "http://192.168.1.10/time"},
		{"http://192.168.1.10/time", "http://192.168.1.10/time"},
		{"wss://example.com/ws", "https://example.com/time"},
		{"localhost", "http://localhost/time"},
	}

	for _, tt := range tests {
		got, err := PollURL(tt.base)
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got, tt.base)
	}
}

func TestInvalidBaseURL(t *testing.T) {
	_, err := PushURL("ftp://example.com")
	assert.Error(t, err)

	_, err = PollURL("http://")
	assert.Error(t, err)
}
