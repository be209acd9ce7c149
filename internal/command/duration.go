package command

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// maxDuration caps timed actions at 366 days; anything longer is
// effectively permanent and should be issued as such.
const maxDuration = 366 * 24 * time.Hour

var durationRe = regexp.MustCompile(`^(\d+)([smhdwM])$`)

// ErrBadDuration marks an argument that is not a valid duration.
var ErrBadDuration = errors.New("bad duration")

// ParseDuration parses the `<N><unit>` grammar: s, m, h, d, w and M
// (months, counted as 30 days). 0 values and durations beyond 366 days
// are rejected.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q (want e.g. 30m, 2h, 7d)", ErrBadDuration, s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}

	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	case "M":
		unit = 30 * 24 * time.Hour
	}

	d := time.Duration(n) * unit
	if d/unit != time.Duration(n) || d > maxDuration {
		return 0, fmt.Errorf("%w: %q exceeds the 366 day maximum", ErrBadDuration, s)
	}
	return d, nil
}

// LooksLikeDuration reports whether s matches the duration grammar,
// without validating its range.
func LooksLikeDuration(s string) bool {
	return durationRe.MatchString(s)
}

// FormatDuration renders a duration in the largest fitting unit of the
// same grammar, for command replies.
func FormatDuration(d time.Duration) string {
	switch {
	case d >= 30*24*time.Hour && d%(30*24*time.Hour) == 0:
		return fmt.Sprintf("%dM", d/(30*24*time.Hour))
	case d >= 7*24*time.Hour && d%(7*24*time.Hour) == 0:
		return fmt.Sprintf("%dw", d/(7*24*time.Hour))
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}
