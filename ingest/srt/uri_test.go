package srt

import "testing"

func TestParseURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		uri     string
		want    Request
		wantErr bool
	}{
		{
			name: "caller with stream id",
			uri:  "srt://10.0.0.5:9000?streamid=live/cam1",
			want: Request{Address: "10.0.0.5:9000", StreamID: "live/cam1"},
		},
		{
			name: "explicit caller mode",
			uri:  "srt://example.com:6000?mode=caller",
			want: Request{Address: "example.com:6000"},
		},
		{
			name: "listener without host",
			uri:  "srt://:6000?mode=listener&streamid=cam2",
			want: Request{Address: ":6000", StreamID: "cam2", Listen: true},
		},
		{name: "caller without host", uri: "srt://:6000", wantErr: true},
		{name: "missing port", uri: "srt://example.com", wantErr: true},
		{name: "wrong scheme", uri: "rtsp://example.com:554", wantErr: true},
		{name: "unknown mode", uri: "srt://example.com:6000?mode=rendezvous", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseURI(tc.uri)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseURI(%q) expected error, got %+v", tc.uri, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURI(%q): %v", tc.uri, err)
			}
			if got != tc.want {
				t.Errorf("ParseURI(%q) = %+v, want %+v", tc.uri, got, tc.want)
			}
		})
	}
}

func TestIsSRT(t *testing.T) {
	t.Parallel()

	if !IsSRT("srt://host:1") || !IsSRT("SRT://host:1") {
		t.Error("srt URIs should be detected")
	}
	if IsSRT("/videos/srt://x.mp4") || IsSRT("rtsp://host/1") {
		t.Error("non-srt URIs should not be detected")
	}
}

func TestExtractStreamKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		streamID string
		want     string
	}{
		{name: "simple key", streamID: "camera1", want: "camera1"},
		{name: "leading slash", streamID: "/camera1", want: "camera1"},
		{name: "live prefix", streamID: "live/camera1", want: "camera1"},
		{name: "slash and live prefix", streamID: "/live/camera1", want: "camera1"},
		{name: "empty returns default", streamID: "", want: "default"},
		{name: "just live/ returns default", streamID: "live/", want: "default"},
		{name: "nested path preserved", streamID: "studio/camera1", want: "studio/camera1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := extractStreamKey(tc.streamID)
			if got != tc.want {
				t.Errorf("extractStreamKey(%q) = %q, want %q", tc.streamID, got, tc.want)
			}
		})
	}
}
