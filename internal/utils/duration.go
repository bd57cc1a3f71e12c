package utils

import (
	"fmt"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// ParseDuration accepts the short forms used in commands ("30s", "10m",
// "2h", "3d", "1w") as well as combinations such as "1d12h".
func ParseDuration(input string) (time.Duration, error) {
	value := strings.ToLower(strings.TrimSpace(input))
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}
	d, err := str2duration.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", input, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", input)
	}
	return d, nil
}
