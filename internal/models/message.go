// Package models defines core data structures for messages and chat requests.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DefaultSender is used when a message arrives without a sender name.
const DefaultSender = "Unknown"

// timestampLayout is the textual timestamp format accepted from gateways.
const timestampLayout = "2006-01-02 15:04:05"

// Message is a stored chat message.
type Message struct {
	ID        string    `json:"id" db:"id"`
	ChatJID   string    `json:"chat_jid" db:"chat_jid"`
	ChatName  string    `json:"chat_name,omitempty" db:"-"`
	Sender    string    `json:"sender" db:"sender"`
	SenderJID string    `json:"sender_jid,omitempty" db:"sender_jid"`
	Content   string    `json:"content" db:"content"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	IsFromMe  bool      `json:"is_from_me" db:"is_from_me"`
}

// ContextLine formats the message the way it is shown to the generator: "sender: content".
func (m *Message) ContextLine() string {
	sender := m.Sender
	if sender == "" {
		sender = DefaultSender
	}
	return sender + ": " + m.Content
}

// MessageInput is the JSON payload a gateway posts for a new message.
type MessageInput struct {
	ID          string    `json:"id"`
	ChatJID     string    `json:"chat_jid,omitempty"`
	ChatName    string    `json:"chat_name,omitempty"`
	Sender      string    `json:"sender,omitempty"`
	SenderJID   string    `json:"sender_jid,omitempty"`
	Content     string    `json:"content"`
	Timestamp   Timestamp `json:"timestamp"`
	IsFromMe    bool      `json:"is_from_me,omitempty"`
	MessageType string    `json:"message_type,omitempty"`
}

// Validate checks the fields required to store and index a message and fills defaults.
func (in *MessageInput) Validate() error {
	if in.ID == "" {
		return fmt.Errorf("missing id")
	}
	if in.Sender == "" {
		in.Sender = DefaultSender
	}
	return nil
}

// ToMessage converts the input to a storable message. Call Validate first.
func (in *MessageInput) ToMessage() *Message {
	ts := in.Timestamp.Time()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &Message{
		ID:        in.ID,
		ChatJID:   in.ChatJID,
		ChatName:  in.ChatName,
		Sender:    in.Sender,
		SenderJID: in.SenderJID,
		Content:   in.Content,
		Timestamp: ts,
		IsFromMe:  in.IsFromMe,
	}
}

// requiredFields are the keys a complete gateway export line must carry.
var requiredFields = []string{"id", "chat_jid", "sender", "content", "timestamp", "is_from_me"}

// ValidateRequiredFields checks that raw has every field of a complete gateway message and
// that is_from_me is a boolean.
func ValidateRequiredFields(raw map[string]json.RawMessage) error {
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			return fmt.Errorf("missing field: %s", field)
		}
	}
	v := bytes.TrimSpace(raw["is_from_me"])
	if !bytes.Equal(v, []byte("true")) && !bytes.Equal(v, []byte("false")) {
		return fmt.Errorf("is_from_me must be boolean")
	}
	return nil
}

// Timestamp accepts either unix seconds or a "YYYY-MM-DD HH:MM:SS" UTC string.
type Timestamp struct {
	t time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t}
}

// Time returns the wrapped time (zero when unset).
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		ts.t = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			ts.t = time.Time{}
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			ts.t = time.Unix(n, 0).UTC()
			return nil
		}
		t, err := time.Parse(timestampLayout, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q", s)
		}
		ts.t = t.UTC()
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", data)
	}
	ts.t = time.Unix(int64(n), 0).UTC()
	return nil
}

// MarshalJSON encodes the timestamp as unix seconds.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.t.IsZero() {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatInt(ts.t.Unix(), 10)), nil
}
