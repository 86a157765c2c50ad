package webrtc

import "github.com/pion/webrtc/v3"

const (
	dataChannelLabel    = "data"
	dataChannelProtocol = "file-transfer"
)

// Configuration builds the peer connection settings for stunServers.
func Configuration(stunServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return cfg
}

// DataChannelConfig is reliable and ordered; the transfer protocol relies on
// both.
func DataChannelConfig() *webrtc.DataChannelInit {
	protocolName := dataChannelProtocol
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &protocolName,
	}
}
