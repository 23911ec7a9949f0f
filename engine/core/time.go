package core

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// Duration strings in workflow documents use a compact grammar: an integer
// with an ms/s/m/h suffix, or bare digits interpreted as milliseconds.
var durationPattern = regexp.MustCompile(`^(\d+)(ms|s|m|h)?$`)

// ParseDuration parses a workflow duration string. The compact grammar is
// tried first; standard Go durations ("1h30m") and the day/week units of
// str2duration ("2d", "1w") are accepted as fallbacks. Word units with
// spaces ("2 hours") and negative durations are rejected.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration cannot be empty")
	}
	if m := durationPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		switch m[2] {
		case "", "ms":
			return time.Duration(n) * time.Millisecond, nil
		case "s":
			return time.Duration(n) * time.Second, nil
		case "m":
			return time.Duration(n) * time.Minute, nil
		case "h":
			return time.Duration(n) * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		d, err = str2duration.ParseDuration(s)
	}
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
