package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/codeclash/proctor/mediagate"
)

// syntheticCapture feeds blank VP8/Opus samples so the full capture ->
// negotiate -> stream path can run without real devices. Useful for load
// tests and for exercising the relay end to end.
type syntheticCapture struct{}

func (syntheticCapture) CaptureCameraAndMic(ctx context.Context) (*mediagate.MediaStream, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera-video", "camera")
	if err != nil {
		return nil, fmt.Errorf("failed to create camera track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "camera-audio", "camera")
	if err != nil {
		return nil, fmt.Errorf("failed to create microphone track: %w", err)
	}

	feedCtx, stop := context.WithCancel(context.Background())
	go feedBlankSamples(feedCtx, video, 33*time.Millisecond)
	go feedBlankSamples(feedCtx, audio, 20*time.Millisecond)

	return mediagate.NewMediaStream(
		[]webrtc.TrackLocal{video, audio},
		stop,
	), nil
}

func (syntheticCapture) CaptureScreen(ctx context.Context, onEnded func()) (*mediagate.MediaStream, error) {
	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen-video", "screen")
	if err != nil {
		return nil, fmt.Errorf("failed to create screen track: %w", err)
	}

	feedCtx, stop := context.WithCancel(context.Background())
	go feedBlankSamples(feedCtx, screen, 100*time.Millisecond)

	// the synthetic screen never ends externally, so onEnded is never fired
	_ = onEnded

	return mediagate.NewMediaStream(
		[]webrtc.TrackLocal{screen},
		stop,
	), nil
}

func feedBlankSamples(ctx context.Context, track *webrtc.TrackLocalStaticSample, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			track.WriteSample(media.Sample{Data: []byte{0x00}, Duration: interval})
		case <-ctx.Done():
			return
		}
	}
}

// headlessDisplay satisfies the lockdown display surface for an agent that
// has no window system; fullscreen always "succeeds".
type headlessDisplay struct{}

func (headlessDisplay) EnterFullscreen() error       { return nil }
func (headlessDisplay) LockKeys(keys []string) error { return nil }
func (headlessDisplay) UnlockKeys()                  {}
