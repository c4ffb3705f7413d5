package model

import "time"

// InboundMessage is a raw message fetched from the mail provider.
// Immutable once fetched; copied into the store by the work queue.
type InboundMessage struct {
	ID          string
	ThreadID    string
	Subject     string
	FromAddress string
	FromName    string
	To          string
	Body        string
	BodyHTML    string
	Snippet     string
	ReceivedAt  time.Time
	Labels      []string
	Attachments int
}

// EffectiveBody returns the text body, falling back to the HTML body when
// no plain text part was present.
func (m *InboundMessage) EffectiveBody() string {
	if m.Body != "" {
		return m.Body
	}
	return m.BodyHTML
}
