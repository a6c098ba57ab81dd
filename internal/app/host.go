// Package app contains the top-level orchestration of the echo client and
// the echo server.
package app

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/echoclient/internal/config"
	"github.com/1ureka/echoclient/internal/echo"
	"github.com/1ureka/echoclient/internal/signaling"
	"github.com/1ureka/echoclient/internal/transport"
	"github.com/1ureka/echoclient/internal/util"
)

// RunServer serves the echo endpoint until ctx is cancelled.
func RunServer(ctx context.Context, cfg *config.Config) error {
	srv, err := echo.New(transport.Config{
		ICEServers: cfg.ICEServers,
		MDNS:       cfg.MDNS,
	})
	if err != nil {
		return err
	}

	addr, err := srv.Start(cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer srv.Close()

	pterm.DefaultBox.WithTitle("Echo Signaling Server").Println(
		fmt.Sprintf("Listen : %s\nPath   : %s", addr, signaling.DefaultPath),
	)

	util.StartStatsReporter(ctx)
	<-ctx.Done()
	util.LogInfo("shutting down echo server")
	return nil
}
