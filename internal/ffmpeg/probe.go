// Package ffmpeg wraps the ffmpeg and ffprobe executables: binary lookup,
// argument construction, metadata probing and subprocess lifecycle.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/zsiec/framestream/media"
)

// ErrNoVideoStream is returned by Probe when the input has streams but none
// of them is video.
var ErrNoVideoStream = errors.New("ffmpeg: no video stream found")

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	NbFrames     string `json:"nb_frames"`
}

// Probe runs ffprobe against uri and returns the metadata of the first video
// stream. When stdin is non-nil it is piped to ffprobe, which is expected to
// read from "pipe:0".
func Probe(ctx context.Context, bin, uri string, stdin io.Reader) (media.Metadata, error) {
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		uri,
	)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return media.Metadata{}, fmt.Errorf("ffprobe %s: %w: %s", uri, err, msg)
		}
		return media.Metadata{}, fmt.Errorf("ffprobe %s: %w", uri, err)
	}
	return ParseProbe(out)
}

// ParseProbe extracts video metadata from ffprobe's JSON stream listing.
func ParseProbe(out []byte) (media.Metadata, error) {
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return media.Metadata{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	for _, s := range po.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return media.Metadata{}, fmt.Errorf("ffmpeg: video stream has no geometry (%dx%d)", s.Width, s.Height)
		}
		fps, err := ParseRate(s.AvgFrameRate)
		if err != nil || fps == 0 {
			fps, _ = ParseRate(s.RFrameRate)
		}
		md := media.Metadata{
			Width:     s.Width,
			Height:    s.Height,
			FrameRate: fps,
		}
		if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
			md.FrameCount = n
		}
		return md, nil
	}
	return media.Metadata{}, ErrNoVideoStream
}

// ParseRate parses an ffprobe rate such as "30000/1001", "25/1" or "25".
// A zero denominator ("0/0", reported for unknown rates) yields 0.
func ParseRate(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	num, den, ok := strings.Cut(raw, "/")
	if !ok {
		return strconv.ParseFloat(raw, 64)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", raw, err)
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", raw, err)
	}
	if d == 0 {
		return 0, nil
	}
	return n / d, nil
}
