package lsn

import (
	"strings"
	"testing"
	"time"
)

func TestNext(t *testing.T) {
	if got := LSN(100).Next(); got != 101 {
		t.Errorf("Next() = %d, want 101", got)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b LSN
		want int
	}{
		{"equal", 100, 100, 0},
		{"less", 100, 200, -1},
		{"greater", 200, 100, 1},
		{"both zero", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	want := LSN(0x16B374D848)
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("Parse(%q): %v", want.String(), err)
	}
	if got != want {
		t.Errorf("Parse(String()) = %d, want %d", got, want)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("not-an-lsn"); err == nil {
		t.Error("Parse of garbage input should fail")
	}
}

func TestLag(t *testing.T) {
	tests := []struct {
		name    string
		current LSN
		latest  LSN
		want    uint64
	}{
		{"zero lag", 100, 100, 0},
		{"positive lag", 100, 200, 100},
		{"current ahead", 200, 100, 0},
		{"both zero", 0, 0, 0},
		{"large lag", 0, 1 << 30, 1 << 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Lag(tt.current, tt.latest)
			if got != tt.want {
				t.Errorf("Lag(%d, %d) = %d, want %d", tt.current, tt.latest, got, tt.want)
			}
		})
	}
}

func TestFormatLag(t *testing.T) {
	tests := []struct {
		name    string
		bytes   uint64
		latency time.Duration
		want    string
	}{
		{"zero", 0, 0, "0 B (latency: 0s)"},
		{"bytes", 512, 5 * time.Millisecond, "512 B (latency: 5ms)"},
		{"kilobytes", 1024, 10 * time.Millisecond, "1.00 KB (latency: 10ms)"},
		{"megabytes", 1 << 20, 150 * time.Millisecond, "1.00 MB (latency: 150ms)"},
		{"gigabytes", 1 << 30, 30 * time.Second, "1.00 GB (latency: 30s)"},
		{"fractional MB", 1572864, 0, "1.50 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatLag(tt.bytes, tt.latency)
			if !strings.Contains(got, tt.want) && got != tt.want {
				t.Errorf("FormatLag(%d, %v) = %q, want to contain %q", tt.bytes, tt.latency, got, tt.want)
			}
		})
	}
}

func TestFormatLag_LatencyTruncation(t *testing.T) {
	got := FormatLag(0, 1234567*time.Nanosecond)
	if !strings.Contains(got, "latency: 1ms") {
		t.Errorf("FormatLag should truncate to milliseconds, got %q", got)
	}
}
