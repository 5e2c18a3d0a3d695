package model

import "time"

// Message is one line in a Job's cached message ring.
type Message struct {
	Kind MessageKind
	Time time.Time
	Text string
}

// MessageLog is a fixed-capacity ring buffer of Messages. Capacity is set
// from the configured log-buffer size; once full, the oldest message is
// evicted to make room for the newest.
type MessageLog struct {
	capacity int
	messages []Message
}

// NewMessageLog creates a ring buffer bounded to capacity entries. A
// non-positive capacity disables bounding (unlimited growth).
func NewMessageLog(capacity int) *MessageLog {
	return &MessageLog{capacity: capacity}
}

// Add appends a message, evicting the oldest entry if the log is at capacity.
func (m *MessageLog) Add(kind MessageKind, text string) {
	m.messages = append(m.messages, Message{Kind: kind, Time: time.Now(), Text: text})
	if m.capacity > 0 && len(m.messages) > m.capacity {
		m.messages = m.messages[len(m.messages)-m.capacity:]
	}
}

// All returns the messages currently retained, oldest first.
func (m *MessageLog) All() []Message {
	return m.messages
}

// Clear empties the log (used when a job is moved to history).
func (m *MessageLog) Clear() {
	m.messages = nil
}

// Restore replaces the log's contents wholesale, used when reloading a
// persisted Job at startup.
func (m *MessageLog) Restore(msgs []Message) {
	m.messages = msgs
	if m.capacity > 0 && len(m.messages) > m.capacity {
		m.messages = m.messages[len(m.messages)-m.capacity:]
	}
}
