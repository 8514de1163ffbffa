package bus

// InboundMessage is one platform message normalized for routing.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	ThreadID   string            `json:"thread_id,omitempty"`
	Content    string            `json:"content"`
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MetaPlaceholderID carries the placeholder message identifier a channel
// created before routing, so later updates edit in place.
const MetaPlaceholderID = "placeholder_id"
