package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/1ureka/echoclient/internal/config"
	"github.com/1ureka/echoclient/internal/media"
	"github.com/1ureka/echoclient/internal/session"
	"github.com/1ureka/echoclient/internal/signaling"
	"github.com/1ureka/echoclient/internal/transport"
	"github.com/1ureka/echoclient/internal/ui"
	"github.com/1ureka/echoclient/internal/util"
)

// RunClient orchestrates the client lifecycle:
//  1. Build the channel, media source and PeerLink factory
//  2. Start the session actor and connect the channel
//  3. Drive start/stop from the console (in) until it quits or ctx ends
//  4. Tear down: stop the call, close the channel, stop the audio pump
func RunClient(ctx context.Context, cfg *config.Config, in io.Reader) error {
	// ── 1. Collaborators ───────────────────────────────────────────────
	util.LogDebug("config: %+v", *cfg)

	newPeer, err := transport.Factory(transport.Config{
		ICEServers: cfg.ICEServers,
		MDNS:       cfg.MDNS,
	})
	if err != nil {
		return err
	}

	ch := signaling.NewChannel(cfg.SignalingURL, cfg.ReconnectDelay)
	defer ch.Close()

	src := media.NewSource(cfg.AudioFile)
	defer src.Close()

	var observer session.Observer = ui.Console{}
	auto := &autoStart{next: observer}
	if cfg.AutoStart {
		observer = auto
	}

	sess := session.New(session.Config{
		Channel:  ch,
		Media:    src,
		NewPeer:  newPeer,
		Observer: observer,
	})
	auto.sess = sess
	ch.Handle(sess)

	// ── 2. Actor + channel ─────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.Run(runCtx) }()

	if err := ch.Connect(); err != nil {
		return fmt.Errorf("failed to connect signaling channel: %w", err)
	}
	util.LogInfo("signaling server: %s", cfg.SignalingURL)
	util.StartStatsReporter(runCtx)

	// ── 3. Console ─────────────────────────────────────────────────────
	uiErr := ui.Run(runCtx, sess, in)

	// ── 4. Shutdown ────────────────────────────────────────────────────
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return uiErr
}

// autoStart starts one call the first time the session comes online.
type autoStart struct {
	next session.Observer
	sess *session.Session
	once sync.Once
}

func (a *autoStart) StatusChanged(st session.Status) {
	a.next.StatusChanged(st)
	if st.Online && st.State == session.Idle {
		// Start posts to the session inbox; never from the session goroutine.
		a.once.Do(func() { go a.sess.Start() })
	}
}

func (a *autoStart) Notify(err error) { a.next.Notify(err) }
