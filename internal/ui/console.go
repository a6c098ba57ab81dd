// Package ui is the terminal presentation layer: it renders session status
// changes and maps key presses onto start/stop.
package ui

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/echoclient/internal/session"
	"github.com/1ureka/echoclient/internal/signaling"
	"github.com/1ureka/echoclient/internal/util"
)

// Controller is the part of the session the console drives.
type Controller interface {
	Start()
	Stop()
	Status() session.Status
}

// Action is what a trigger resolved to.
type Action int

const (
	ActionNone Action = iota // ignored: offline or connecting
	ActionStart
	ActionStop
)

// Compile-time interface check.
var _ session.Observer = (*Console)(nil)

// Console prints status transitions and notifications.
type Console struct{}

// StatusChanged renders the new status on one line.
func (Console) StatusChanged(st session.Status) {
	pterm.Info.Println(FormatStatus(st))
	if st.State == session.Active && st.AudioAvailable {
		util.LogSuccess("echo audio is flowing")
	}
}

// Notify reports a non-fatal condition with a severity matching its class.
func (Console) Notify(err error) {
	var (
		remote *session.RemoteError
		neg    *session.NegotiationError
		media  *session.MediaAcquisitionError
		proto  *signaling.ProtocolError
	)
	switch {
	case errors.As(err, &neg), errors.As(err, &media), errors.As(err, &remote):
		util.LogError("%v", err)
	case errors.As(err, &proto):
		util.LogWarning("protocol: %v", err)
	default:
		util.LogWarning("%v", err)
	}
}

// FormatStatus renders a status as "Online | Connecting | Audio".
func FormatStatus(st session.Status) string {
	flag := func(name string, on bool) string {
		if on {
			return pterm.Green(name)
		}
		return pterm.Gray(name)
	}
	return strings.Join([]string{
		"Session: " + st.State.String(),
		flag("online", st.Online),
		flag("connecting", st.Connecting),
		flag("audio", st.AudioAvailable),
	}, " | ")
}

// Trigger mirrors the single start/stop button: disabled while offline,
// ignored while connecting, otherwise stop when audio flows and start when
// it does not.
func Trigger(c Controller) Action {
	st := c.Status()
	switch {
	case !st.Online:
		util.LogWarning("offline: waiting for the signaling server and local audio")
		return ActionNone
	case st.Connecting:
		return ActionNone
	case st.AudioAvailable:
		c.Stop()
		return ActionStop
	default:
		c.Start()
		return ActionStart
	}
}

// Run reads commands from in until ctx is done, "q" is entered or in ends.
// An empty line (or "t") toggles, "s" starts, "x" stops.
func Run(ctx context.Context, c Controller, in io.Reader) error {
	pterm.Info.Println("Enter: start/stop echo | q: quit")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case line := <-lines:
			switch line {
			case "", "t":
				Trigger(c)
			case "s":
				c.Start()
			case "x":
				c.Stop()
			case "q":
				return nil
			default:
				util.LogWarning("unknown command %q", line)
			}

		case err := <-errCh:
			return err

		case <-ctx.Done():
			return nil
		}
	}
}
