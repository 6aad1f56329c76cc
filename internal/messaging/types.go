package messaging

// InboundMessage is a single user message extracted from a webhook delivery.
// Timestamp is milliseconds since epoch; the provider sends seconds on the
// wire and the webhook handler converts them.
type InboundMessage struct {
	ID        string
	From      string
	Timestamp int64
	Type      string
	Body      string

	// Set when this message was synthesized by the buffer from several
	// rapid fragments. The ID is the first fragment's id so replies and
	// read receipts reference a real provider message.
	Combined      bool
	OriginalCount int
	Originals     []InboundMessage
}

// SenderInfo carries the contact profile that accompanied a webhook delivery.
type SenderInfo struct {
	WaID        string
	ProfileName string
}

// DisplayName returns the best available name for the sender.
func (s SenderInfo) DisplayName() string {
	if s.ProfileName != "" {
		return s.ProfileName
	}
	return s.WaID
}
