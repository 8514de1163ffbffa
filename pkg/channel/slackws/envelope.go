package slackws

import "encoding/json"

// Envelope types Slack sends over the Socket Mode connection. Anything else
// is dropped after logging; unknown shapes must fail closed.
const (
	envelopeHello       = "hello"
	envelopeDisconnect  = "disconnect"
	envelopeEventsAPI   = "events_api"
	envelopeSlash       = "slash_commands"
	envelopeInteractive = "interactive"
)

// envelope is the framing layer: type tag first, payload decoded per variant
// only after the type is known.
type envelope struct {
	Type         string          `json:"type"`
	EnvelopeID   string          `json:"envelope_id"`
	Reason       string          `json:"reason"`
	ReconnectURL string          `json:"reconnect_url"`
	Payload      json.RawMessage `json:"payload"`
}

// ackFrame acknowledges one envelope by identifier. Sending it promptly is a
// protocol requirement; late acks cause redelivery.
type ackFrame struct {
	EnvelopeID string `json:"envelope_id"`
}

// eventsAPIPayload is the events_api variant.
type eventsAPIPayload struct {
	EventID string     `json:"event_id"`
	Event   innerEvent `json:"event"`
}

type innerEvent struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts"`
	TS       string `json:"ts"`
	BotID    string `json:"bot_id"`
	Subtype  string `json:"subtype"`
}

// slashPayload is the slash_commands variant.
type slashPayload struct {
	Command   string `json:"command"`
	Text      string `json:"text"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	TriggerID string `json:"trigger_id"`
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}

	return env, nil
}

func decodeEventsPayload(raw json.RawMessage) (eventsAPIPayload, error) {
	var payload eventsAPIPayload
	err := json.Unmarshal(raw, &payload)

	return payload, err
}

func decodeSlashPayload(raw json.RawMessage) (slashPayload, error) {
	var payload slashPayload
	err := json.Unmarshal(raw, &payload)

	return payload, err
}
