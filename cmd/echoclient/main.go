// Echo client: CLI entry point.
//
// Connects to an echo signaling server over WebSocket, keeps the connection
// alive (reconnecting on loss) and lets the user start and stop a single
// WebRTC audio call whose audio is echoed back by the server.
//
// Configuration comes from an optional YAML file (-config or ECHO_CONFIG),
// the ECHO_* environment variables and finally the flags below.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/echoclient/internal/app"
	"github.com/1ureka/echoclient/internal/config"
	"github.com/1ureka/echoclient/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", os.Getenv("ECHO_CONFIG"), "Path to a YAML config file")
	wsURL := flag.String("url", "", "Signaling server URL (ws:// or wss://)")
	audioFile := flag.String("audio", "", "Ogg/Opus file to send (default: silence)")
	autoStart := flag.Bool("auto", false, "Start a call as soon as the client is online")
	reconnect := flag.Duration("reconnect", 0, "Delay before reconnecting the signaling channel")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	applyFlags(cfg, *wsURL, *audioFile, *autoStart, *reconnect, *debugMode)

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Echo client v%s", version))
	pterm.Println()

	if err := app.RunClient(ctx, cfg, os.Stdin); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("echo client closed")
}

// applyFlags overrides cfg with the flags that were given explicitly.
func applyFlags(cfg *config.Config, wsURL, audioFile string, autoStart bool, reconnect time.Duration, debug bool) {
	if wsURL != "" {
		cfg.SignalingURL = wsURL
	}
	if audioFile != "" {
		cfg.AudioFile = audioFile
	}
	if autoStart {
		cfg.AutoStart = true
	}
	if reconnect > 0 {
		cfg.ReconnectDelay = reconnect
	}
	if debug {
		cfg.Debug = true
	}
}
