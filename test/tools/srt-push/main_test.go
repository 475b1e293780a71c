package main

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestSelectDuration(t *testing.T) {
	tests := []struct {
		name     string
		override float64
		probed   float64
		want     float64
	}{
		{"override takes precedence", 30.0, 28.0, 30.0},
		{"probe used when no override", 0, 28.0, 28.0},
		{"default when both zero", 0, 0, defaultDuration},
		{"negative override ignored", -1, 25.0, 25.0},
		{"negative probe ignored", 0, -1, defaultDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectDuration(tt.override, tt.probed)
			if got != tt.want {
				t.Errorf("selectDuration(%v, %v) = %v, want %v", tt.override, tt.probed, got, tt.want)
			}
		})
	}
}

func TestPacingDelay(t *testing.T) {
	tests := []struct {
		name    string
		sent    int64
		rate    float64
		elapsed time.Duration
		want    time.Duration
	}{
		{"ahead of schedule", 1000, 1000, 500 * time.Millisecond, 500 * time.Millisecond},
		{"on schedule", 1000, 1000, time.Second, 0},
		{"behind schedule", 1000, 1000, 2 * time.Second, -time.Second},
		{"no rate", 1000, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pacingDelay(tt.sent, tt.rate, tt.elapsed); got != tt.want {
				t.Errorf("pacingDelay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStreamLoopSendsEverythingOnce(t *testing.T) {
	data := bytes.Repeat([]byte{0x47}, chunkSize*3+100)
	var out bytes.Buffer

	if err := streamLoop(context.Background(), &out, data, 0, false); err != nil {
		t.Fatalf("streamLoop: %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Errorf("sent %d bytes, want %d", out.Len(), len(data))
	}
}

func TestStreamLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	if err := streamLoop(ctx, &out, make([]byte, chunkSize), 0, true); err == nil {
		t.Fatal("expected context error")
	}
	if out.Len() != 0 {
		t.Errorf("wrote %d bytes after cancel", out.Len())
	}
}
