package presence

import (
	"encoding/json"
)

type MessageType string

const (
	MsgRegister          MessageType = "register"
	MsgReconnect         MessageType = "reconnect"
	MsgUpdatePeerAddress MessageType = "updatePeerAddress"
	MsgUpdateDeviceName  MessageType = "updateDeviceName"

	MsgRegistered         MessageType = "registered"
	MsgReconnected        MessageType = "reconnected"
	MsgPeerAddressUpdated MessageType = "peerAddressUpdated"
	MsgDeviceNameUpdated  MessageType = "deviceNameUpdated"
	MsgPresenceList       MessageType = "presenceList"
	MsgError              MessageType = "error"
)

// Envelope is the frame exchanged on the presence channel. Replies echo the
// RequestID of the request they answer.
type Envelope struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type RegisterPayload struct {
	Name       string     `json:"name"`
	DeviceType DeviceType `json:"deviceType"`
}

type ReconnectPayload struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	DeviceType  DeviceType `json:"deviceType,omitempty"`
	PeerAddress string     `json:"peerAddress,omitempty"`
}

type UpdatePeerAddressPayload struct {
	ID          string `json:"id"`
	PeerAddress string `json:"peerAddress"`
}

type UpdateDeviceNamePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AckPayload struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Device  *DeviceRecord `json:"device,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	CodeInvalidInput   = "invalid-input"
	CodeUnknownDevice  = "unknown-device"
	CodeBadMessage     = "bad-message"
	CodeUnknownMessage = "unknown-message"
)

func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}

func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}
