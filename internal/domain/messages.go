package domain

// Outbound message types sent on the raw socket
const (
	MessageTypeMousePosition = "mouse_position"
	MessageTypeFlushSave     = "flush_save"
)

// OutboundMessage is a frame the client sends to the authority
type OutboundMessage struct {
	Type string   `json:"type"`
	X    *float64 `json:"x,omitempty"`
	Y    *float64 `json:"y,omitempty"`
}

// MousePositionMessage reports the local pointer position
func MousePositionMessage(x, y float64) OutboundMessage {
	return OutboundMessage{Type: MessageTypeMousePosition, X: &x, Y: &y}
}

// FlushSaveMessage asks the authority to persist immediately
func FlushSaveMessage() OutboundMessage {
	return OutboundMessage{Type: MessageTypeFlushSave}
}
