// Package signaling relays connection-setup messages between peer
// addresses. The hub grants each address to one live session at a time.
package signaling

const (
	FrameOpen   = "open"
	FrameSignal = "signal"
	FrameError  = "error"
)

const (
	CodeUnavailableID   = "unavailable-id"
	CodeInvalidID       = "invalid-id"
	CodePeerUnavailable = "peer-unavailable"
	CodeBadFrame        = "bad-frame"
)

type Frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	Peer    string `json:"peer,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}
