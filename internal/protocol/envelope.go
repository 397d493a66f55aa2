package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Subprotocol negotiated by clients that speak the tagged envelope form
const Subprotocol = "exchangechat.v1"

var ErrNotEnvelope = errors.New("payload is not a tagged envelope")

// Kind discriminates envelopes and legacy commands
type Kind string

const (
	KindChat        Kind = "chat"
	KindExchange    Kind = "exchange"
	KindBuyConvert  Kind = "buy_convert"
	KindSellConvert Kind = "sell_convert"
	KindPing        Kind = "ping"

	KindResult Kind = "result"
	KindError  Kind = "error"
	KindSystem Kind = "system"
	KindPong   Kind = "pong"
)

// Envelope is the tagged message used by the exchangechat.v1 subprotocol
type Envelope struct {
	Kind      Kind   `json:"kind"`
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Days      int    `json:"days,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// IsReply reports whether the envelope answers a request
func (e Envelope) IsReply() bool {
	return e.ID != "" && (e.Kind == KindResult || e.Kind == KindError || e.Kind == KindPong)
}

// Encode serializes an envelope
func Encode(e Envelope) ([]byte, error) {
	if e.Kind == "" {
		return nil, fmt.Errorf("encode envelope: missing kind")
	}
	data, err := sonic.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a tagged envelope. Payloads that are not JSON objects or have
// no kind return ErrNotEnvelope, so callers can fall back to legacy text.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, ErrNotEnvelope
	}

	var e Envelope
	if err := sonic.Unmarshal(trimmed, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrNotEnvelope, err)
	}
	if e.Kind == "" {
		return Envelope{}, ErrNotEnvelope
	}
	return e, nil
}

// Chat builds a chat envelope
func Chat(text string) Envelope {
	return Envelope{Kind: KindChat, Text: text}
}

// Result builds a successful reply to requestID
func Result(requestID, text string) Envelope {
	return Envelope{Kind: KindResult, ID: requestID, Text: text, Timestamp: time.Now().Unix()}
}

// Failure builds an error reply to requestID
func Failure(requestID, text string) Envelope {
	return Envelope{Kind: KindError, ID: requestID, Text: text, Timestamp: time.Now().Unix()}
}

// SplitLines splits an inbound payload into display lines. Empty segments are
// dropped; everything else is kept verbatim.
func SplitLines(payload string) []string {
	if payload == "" {
		return nil
	}
	parts := strings.Split(payload, "\n")
	lines := parts[:0]
	for _, p := range parts {
		if p != "" {
			lines = append(lines, p)
		}
	}
	return lines
}

// DisplayText returns the renderable text of an inbound payload: the text of
// an envelope, or the raw payload for legacy text.
func DisplayText(payload []byte) string {
	if e, err := Decode(payload); err == nil {
		return e.Text
	}
	return string(payload)
}
