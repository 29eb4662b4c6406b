package shared

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNormalizeTrackKey(t *testing.T) {
	tc := []struct {
		name   string
		title  string
		artist string
		want   string
	}{
		{name: "basic normalization", title: "Song Title", artist: "Artist Name", want: "song title|artist name"},
		{name: "extra whitespace", title: "  Song   Title  ", artist: "  Artist   Name  ", want: "song title|artist name"},
		{name: "mixed case", title: "SoNg TiTlE", artist: "ArTiSt NaMe", want: "song title|artist name"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTrackKey(tt.title, tt.artist); got != tt.want {
				t.Errorf("NormalizeTrackKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tc := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{3*time.Minute + 7*time.Second, "3:07"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
		{59*time.Second + 600*time.Millisecond, "1:00"},
	}

	for _, tt := range tc {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState failed: %v", err)
	}
	b, _ := GenerateState()
	if a == b || len(a) < 40 {
		t.Errorf("expected distinct random states, got %q and %q", a, b)
	}
}

func TestBrowserCommand(t *testing.T) {
	orig := getRuntime
	defer func() { getRuntime = orig }()
	t.Setenv("BROWSER", "")

	tc := map[string]string{"darwin": "open", "linux": "xdg-open", "windows": "rundll32"}
	for goos, want := range tc {
		getRuntime = func() string { return goos }
		cmd, err := browserCommand("http://example.com")
		if err != nil {
			t.Fatalf("%s: unexpected error %v", goos, err)
		}
		if cmd.Args[0] != want {
			t.Errorf("%s: expected %s, got %s", goos, want, cmd.Args[0])
		}
	}

	getRuntime = func() string { return "plan9" }
	if _, err := browserCommand("http://example.com"); err == nil {
		t.Error("expected unsupported platform error")
	}

	t.Setenv("BROWSER", "firefox")
	cmd, _ := browserCommand("http://example.com")
	if cmd.Args[0] != "firefox" {
		t.Errorf("expected $BROWSER override, got %s", cmd.Args[0])
	}
}

func TestSwapWriter(t *testing.T) {
	var first, second bytes.Buffer
	w := NewSwapWriter(&first)
	logger := WithLogger(NewLogger(w), "component", "test")

	logger.Info("before")
	if prev := w.Swap(&second); prev != &first {
		t.Errorf("Swap() returned %v, want the first buffer", prev)
	}
	logger.Info("after")

	if !strings.Contains(first.String(), "before") || strings.Contains(first.String(), "after") {
		t.Errorf("first buffer = %q", first.String())
	}
	if !strings.Contains(second.String(), "after") {
		t.Errorf("second buffer = %q", second.String())
	}
}
