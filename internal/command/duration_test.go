package command

import (
	"errors"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"45m", 45 * time.Minute},
		{"2h", 2 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"1M", 30 * 24 * time.Hour},
		{"12M", 360 * 24 * time.Hour},
		{"366d", 366 * 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseDuration(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestParseDurationRejects(t *testing.T) {
	for _, in := range []string{"", "2", "h", "2x", "-2h", "2.5h", "2H", "0m", "367d", "13M", "53w", "two hours"} {
		if _, err := ParseDuration(in); !errors.Is(err, ErrBadDuration) {
			t.Errorf("ParseDuration(%q) should fail with ErrBadDuration, got %v", in, err)
		}
	}
}

func TestLooksLikeDuration(t *testing.T) {
	for _, in := range []string{"30s", "7d", "1M"} {
		if !LooksLikeDuration(in) {
			t.Errorf("%q should look like a duration", in)
		}
	}
	for _, in := range []string{"spam", "123", "@user", "1y"} {
		if LooksLikeDuration(in) {
			t.Errorf("%q should not look like a duration", in)
		}
	}
}

func TestFormatDurationCanonicalizes(t *testing.T) {
	// The largest fitting unit wins, so 7d renders as 1w and 60d as 2M.
	cases := []struct{ in, want string }{
		{"30s", "30s"},
		{"45m", "45m"},
		{"90s", "90s"},
		{"2h", "2h"},
		{"3d", "3d"},
		{"7d", "1w"},
		{"2w", "2w"},
		{"1M", "1M"},
		{"60d", "2M"},
	}
	for _, c := range cases {
		d, err := ParseDuration(c.in)
		if err != nil {
			t.Fatal(err)
		}
		got := FormatDuration(d)
		if got != c.want {
			t.Errorf("FormatDuration(ParseDuration(%q)) = %q, want %q", c.in, got, c.want)
		}
		// The rendered form parses back to the same value.
		back, err := ParseDuration(got)
		if err != nil || back != d {
			t.Errorf("ParseDuration(%q) = (%s, %v), want %s", got, back, err, d)
		}
	}
}
