// Package echo is a minimal media server for the echo client: it answers the
// client's offer, trickles its own candidates and sends every received audio
// packet straight back on the same PeerConnection.
package echo

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/echoclient/internal/candidates"
	"github.com/1ureka/echoclient/internal/signaling"
	"github.com/1ureka/echoclient/internal/transport"
	"github.com/1ureka/echoclient/internal/util"
)

var log = util.Scope("echo")

// Server accepts any number of clients, one call per connection.
type Server struct {
	api        *webrtc.API
	iceServers []string
	sig        *signaling.Server
}

// New creates an echo server using cfg for every PeerConnection.
func New(cfg transport.Config) (*Server, error) {
	api, err := transport.NewAPI(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up WebRTC API: %w", err)
	}
	s := &Server{api: api, iceServers: cfg.Servers()}
	s.sig = signaling.NewServer(signaling.DefaultPath, s.serve)
	return s, nil
}

// Handler exposes the signaling endpoint.
func (s *Server) Handler() http.Handler {
	return s.sig.Handler()
}

// Start listens on addr and returns the bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
	return s.sig.Start(addr)
}

// Close stops accepting connections.
func (s *Server) Close() error {
	return s.sig.Close()
}

// serve runs the message loop of one client connection.
func (s *Server) serve(conn *signaling.Conn) {
	c := &call{
		conn:       conn,
		api:        s.api,
		iceServers: s.iceServers,
		buffer:     candidates.New(0),
	}
	defer c.release()
	defer conn.Close()

	log.Info("client %s connected", conn.RemoteAddr())

	for {
		msg, err := conn.Receive()
		if err != nil {
			var chErr *signaling.ChannelError
			if errors.As(err, &chErr) {
				log.Info("client %s gone: %v", conn.RemoteAddr(), err)
				return
			}
			c.reply(signaling.ErrorMessage(err.Error()))
			continue
		}

		if err := signaling.Validate(msg); err != nil {
			c.reply(signaling.ErrorMessage(fmt.Sprintf("Invalid message with id %s", msg.ID)))
			continue
		}

		switch msg.ID {
		case signaling.IDStart:
			c.start(msg.SDPOffer)
		case signaling.IDOnIceCandidate:
			c.addCandidate(msg.Candidate)
		case signaling.IDStop:
			c.release()
		default:
			c.reply(signaling.ErrorMessage(fmt.Sprintf("Invalid message with id %s", msg.ID)))
		}
	}
}

// call is the server side of one client. Its fields are only touched by the
// serve goroutine; pion callbacks use conn, which serializes writes.
type call struct {
	conn       *signaling.Conn
	api        *webrtc.API
	iceServers []string

	pc     *webrtc.PeerConnection
	buffer *candidates.Buffer
}

func (c *call) reply(msg signaling.Message) {
	if err := c.conn.Send(msg); err != nil {
		log.Debug("reply to %s failed: %v", c.conn.RemoteAddr(), err)
	}
}

// start answers an offer. Candidates received before it are applied once
// the remote description is set.
func (c *call) start(sdpOffer string) {
	if c.pc != nil {
		c.reply(signaling.ErrorMessage("Session already started"))
		return
	}

	answer, err := c.negotiate(sdpOffer)
	if err != nil {
		log.Warn("negotiation with %s failed: %v", c.conn.RemoteAddr(), err)
		c.release()
		c.reply(signaling.ErrorMessage(err.Error()))
		return
	}

	if err := c.buffer.Flush(c.apply); err != nil {
		log.Warn("early candidates rejected: %v", err)
	}
	c.reply(signaling.StartResponseMessage(answer))
}

func (c *call) negotiate(sdpOffer string) (string, error) {
	pc, err := transport.NewPeerConnection(c.api, c.iceServers)
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}
	c.pc = pc

	echoTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "echo")
	if err != nil {
		return "", fmt.Errorf("create echo track: %w", err)
	}
	rtpSender, err := pc.AddTrack(echoTrack)
	if err != nil {
		return "", fmt.Errorf("add echo track: %w", err)
	}
	go transport.DrainRTCP(rtpSender)

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			c.reply(signaling.IceCandidateMessage(cand.ToJSON()))
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info("echoing %s from %s", remote.Codec().MimeType, c.conn.RemoteAddr())
		go loopback(remote, echoTrack)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("%s peer connection %s", c.conn.RemoteAddr(), state)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdpOffer,
	}); err != nil {
		return "", fmt.Errorf("SetRemoteDescription: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}

	log.Debug("answer %s for offer %s", util.Fingerprint(answer.SDP), util.Fingerprint(sdpOffer))
	return answer.SDP, nil
}

func (c *call) addCandidate(cand *webrtc.ICECandidateInit) {
	if c.pc == nil || c.pc.RemoteDescription() == nil {
		c.buffer.Add(cand)
		return
	}
	if err := c.apply(cand); err != nil {
		log.Warn("candidate from %s rejected: %v", c.conn.RemoteAddr(), err)
	}
	c.buffer.Retain(cand)
}

func (c *call) apply(cand *webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(*cand)
}

// release closes the PeerConnection, if any. The connection stays open for
// a new start.
func (c *call) release() {
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			log.Warn("closing peer connection: %v", err)
		}
		c.pc = nil
	}
	c.buffer.Reset()
}

// loopback copies RTP from remote to local until either side ends.
func loopback(remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		util.Stats.AddRecv(pkt.MarshalSize())
		if err := local.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			continue
		}
		util.Stats.AddSent(pkt.MarshalSize())
	}
}
