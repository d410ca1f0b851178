package models

// Channel identifies the customer-facing medium a message travelled on.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelTelegram  Channel = "telegram"
	ChannelInstagram Channel = "instagram"
	ChannelLinkedIn  Channel = "linkedin"
	ChannelWeb       Channel = "web"
	ChannelVoice     Channel = "voice"
)

// Channels lists every supported channel in schema order.
var Channels = []Channel{
	ChannelWhatsApp, ChannelEmail, ChannelSMS, ChannelTelegram,
	ChannelInstagram, ChannelLinkedIn, ChannelWeb, ChannelVoice,
}

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// Direction is "in" for customer messages and "out" for replies.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Contact references a participant. Only ID is required; the rest are
// channel-specific enrichments.
type Contact struct {
	ID          string            `json:"id"`
	Phone       string            `json:"phone,omitempty"`
	Email       string            `json:"email,omitempty"`
	DisplayName string            `json:"displayName,omitempty"`
	Handles     map[string]string `json:"handles,omitempty"`
}

// Attachment is a single media item carried by a message.
type Attachment struct {
	URL     string `json:"url"`
	MIME    string `json:"mime"`
	Size    int64  `json:"size,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Message is the canonical shape every channel is normalized into. It is
// also the payload written to both the inbound and outbound streams.
type Message struct {
	ID             string         `json:"id"`
	Channel        Channel        `json:"channel"`
	Direction      Direction      `json:"direction"`
	ConversationID string         `json:"conversationId"`
	From           Contact        `json:"from"`
	To             Contact        `json:"to"`
	Timestamp      int64          `json:"timestamp"` // Unix ms
	Text           string         `json:"text,omitempty"`
	Media          *Attachment    `json:"media,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MetadataString returns metadata[key] when it holds a string.
func (m Message) MetadataString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}

// InboundEnvelope wraps a message whose direction is always "in". Values
// should be built with CoerceInbound so the direction invariant holds.
type InboundEnvelope struct {
	Message Message `json:"message"`
}

// OutboundEnvelope wraps a message whose direction is always "out". Values
// should be built with CoerceOutbound so the direction invariant holds.
type OutboundEnvelope struct {
	Message Message `json:"message"`
}
