// Echo server: CLI entry point.
//
// Serves the WebSocket signaling endpoint and sends every client's audio back
// to it over the same PeerConnection. Useful for trying the echo client
// without any other infrastructure.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/1ureka/echoclient/internal/app"
	"github.com/1ureka/echoclient/internal/config"
	"github.com/1ureka/echoclient/internal/util"
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.String("config", os.Getenv("ECHO_CONFIG"), "Path to a YAML config file")
	addr := flag.String("addr", "", "Listen address, e.g. :8443")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *debugMode || cfg.Debug {
		util.EnableDebug()
	}

	if err := app.RunServer(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("echo server closed")
}
