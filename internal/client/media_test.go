package client

import (
	"context"
	"testing"
	"time"
)

func TestSampleMediaTracks(t *testing.T) {
	m, err := NewSampleMedia()
	if err != nil {
		t.Fatalf("NewSampleMedia: %v", err)
	}
	tracks, err := m.Tracks(context.Background())
	if err != nil {
		t.Fatalf("Tracks: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected audio and video tracks, got %d", len(tracks))
	}
	if tracks[0].StreamID() != tracks[1].StreamID() {
		t.Fatal("tracks must share one stream id")
	}
}

func TestPumpStopsOnCancel(t *testing.T) {
	m, err := NewSampleMedia()
	if err != nil {
		t.Fatalf("NewSampleMedia: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Pump(ctx)
		close(done)
	}()

	// Let a few sample intervals elapse; unbound tracks accept writes as
	// no-ops.
	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pump did not stop on cancel")
	}
}
