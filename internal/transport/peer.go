package transport

import (
	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers matches the STUN server the echo endpoint is usually
// deployed with. No TURN.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
}

// Config selects the ICE setup of every PeerConnection created by a Factory.
type Config struct {
	ICEServers []string // nil: DefaultICEServers; empty: host candidates only
	MDNS       bool     // gather and resolve .local candidates
}

// Servers returns the STUN URLs to use.
func (c Config) Servers() []string {
	if c.ICEServers == nil {
		return DefaultICEServers
	}
	return c.ICEServers
}

// NewAPI builds a pion API with the default codecs and interceptors. One API
// is shared by all PeerConnections of a process.
func NewAPI(cfg Config) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, err
	}

	settings := webrtc.SettingEngine{}
	if cfg.MDNS {
		settings.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	} else {
		settings.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	), nil
}

// NewPeerConnection creates a PeerConnection configured with the given STUN
// servers.
func NewPeerConnection(api *webrtc.API, iceServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return api.NewPeerConnection(config)
}
