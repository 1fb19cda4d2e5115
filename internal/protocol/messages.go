// ABOUTME: Time protocol message definitions
// ABOUTME: JSON payloads shared by the HTTP endpoint and the push channel
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

const (
	// CommandGetTime asks the authority for an immediate sample
	CommandGetTime = "getTime"

	// TypeShutdown is sent by the authority before it closes a push channel
	TypeShutdown = "shutdown"

	// TimePath serves the request/response endpoint
	TimePath = "/time"

	// PushPath serves the push channel
	PushPath = "/ws"
)

// TimeMessage carries the authority's clock in epoch milliseconds
type TimeMessage struct {
	ServerTime int64 `json:"serverTime"`
	Secure     bool  `json:"secure,omitempty"`
}

// Command is sent by the estimator over the push channel
type Command struct {
	Command string `json:"command"`
}

// Notice is an out-of-band message from the authority
type Notice struct {
	Type string `json:"type"`
}

// Frame is a decoded server -> client push frame.
// Exactly one of HasTime or Type is meaningful.
type Frame struct {
	ServerTime int64
	HasTime    bool
	Secure     bool
	Type       string
}

// rawFrame keeps serverTime undecoded so missing and non-numeric values can be told apart
type rawFrame struct {
	ServerTime json.RawMessage `json:"serverTime"`
	Secure     bool            `json:"secure"`
	Type       string          `json:"type"`
}

// ParseFrame decodes a push frame sent by the authority
func ParseFrame(data []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, fmt.Errorf("%w: invalid JSON: %v", ErrProtocol, err)
	}

	if raw.ServerTime == nil {
		if raw.Type != "" {
			return Frame{Type: raw.Type}, nil
		}
		return Frame{}, fmt.Errorf("%w: missing serverTime", ErrProtocol)
	}

	ts, err := parseMillis(raw.ServerTime)
	if err != nil {
		return Frame{}, err
	}

	return Frame{ServerTime: ts, HasTime: true, Secure: raw.Secure, Type: raw.Type}, nil
}

// ParseTimeMessage decodes a /time response body and returns its timestamp
func ParseTimeMessage(data []byte) (int64, error) {
	frame, err := ParseFrame(data)
	if err != nil {
		return 0, err
	}
	if !frame.HasTime {
		return 0, fmt.Errorf("%w: missing serverTime", ErrProtocol)
	}
	return frame.ServerTime, nil
}

// ParseCommand decodes a client -> server command
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: invalid JSON: %v", ErrProtocol, err)
	}
	if cmd.Command == "" {
		return Command{}, fmt.Errorf("%w: missing command", ErrProtocol)
	}
	return cmd, nil
}

// parseMillis accepts JSON integers and integral floats (1.7e12)
func parseMillis(raw json.RawMessage) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("%w: serverTime: %v", ErrProtocol, err)
	}

	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: serverTime is not a number: %s", ErrProtocol, string(raw))
	}

	if i, err := num.Int64(); err == nil {
		return i, nil
	}

	f, err := num.Float64()
	if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: serverTime is not an integer: %s", ErrProtocol, num.String())
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: serverTime out of range: %s", ErrProtocol, num.String())
	}
	return int64(f), nil
}
