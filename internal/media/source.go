// Package media provides the local audio stream: an Opus track fed either
// from an Ogg/Opus file (looped) or with generated silence.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/echoclient/internal/session"
	"github.com/1ureka/echoclient/internal/util"
)

const (
	frameDuration = 20 * time.Millisecond
	streamID      = "echoclient"
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var (
	// ErrVideoUnsupported is returned when constraints ask for video.
	ErrVideoUnsupported = errors.New("video capture is not supported")

	errNoAudio = errors.New("no audio pages in file")
)

var log = util.Scope("media")

// Compile-time interface check.
var _ session.MediaSource = (*Source)(nil)

// Source hands out one shared audio track. The first successful Acquire
// starts the pump that writes samples into it; Close stops the pump.
type Source struct {
	file string // empty: silence

	mu     sync.Mutex
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSource creates a source reading from file, or producing silence when
// file is empty.
func NewSource(file string) *Source {
	return &Source{file: file}
}

// Acquire returns the audio track, creating it on first use. The file is
// re-checked on every call so a fixed-up path succeeds on the next connect.
func (s *Source) Acquire(ctx context.Context, c session.Constraints) (webrtc.TrackLocal, error) {
	if c.Video {
		return nil, ErrVideoUnsupported
	}
	if !c.Audio {
		return nil, errors.New("no media requested")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.file != "" {
		if _, err := os.Stat(s.file); err != nil {
			return nil, fmt.Errorf("audio file: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.track != nil {
		return s.track, nil
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.track = track
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.pump(pumpCtx, track, s.done)

	log.Info("audio track ready (%s)", s.describe())
	return track, nil
}

// Close stops the pump. The track stays valid but silent.
func (s *Source) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Source) describe() string {
	if s.file == "" {
		return "silence"
	}
	return s.file
}

// pump writes one frame per frameDuration until ctx is done.
func (s *Source) pump(ctx context.Context, track *webrtc.TrackLocalStaticSample, done chan struct{}) {
	defer close(done)

	if s.file == "" {
		writeSilence(ctx, track)
		return
	}

	for ctx.Err() == nil {
		if err := playFile(ctx, track, s.file); err != nil {
			log.Warn("audio file playback stopped, falling back to silence: %v", err)
			writeSilence(ctx, track)
			return
		}
	}
}

func writeSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := writeFrame(track, opusSilence, frameDuration); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// playFile streams one pass of an Ogg/Opus file, pacing pages by their
// granule position.
func playFile(ctx context.Context, track *webrtc.TrackLocalStaticSample, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	var lastGranule uint64
	written := 0
	for {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if written == 0 {
				return errNoAudio
			}
			return nil
		}
		if err != nil {
			return err
		}

		// Opus granule positions count 48kHz samples.
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(samples) * time.Second / 48000
		if duration <= 0 {
			continue
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
		if err := writeFrame(track, page, duration); err != nil {
			return err
		}
		written++
	}
}

func writeFrame(track *webrtc.TrackLocalStaticSample, data []byte, d time.Duration) error {
	if err := track.WriteSample(pionmedia.Sample{Data: data, Duration: d}); err != nil {
		return err
	}
	util.Stats.AddSent(len(data))
	return nil
}
