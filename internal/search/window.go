package search

import (
	"strconv"
	"strings"
	"time"

	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// ParseWindow accepts Go durations ("24h", "90m") and whole days ("7d").
// The empty string means no window.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, hrerrors.InvalidQuery("invalid time window " + strconv.Quote(s)).
				WithSuggestion("Use a duration such as 24h, 7d or 30d")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, hrerrors.InvalidQuery("invalid time window " + strconv.Quote(s)).
			WithSuggestion("Use a duration such as 24h, 7d or 30d")
	}
	return d, nil
}
