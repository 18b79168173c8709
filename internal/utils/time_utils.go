package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
)

// ParseStringTime converts config duration strings like "500ms", "5s", "2m",
// "48h" or "7d" into a time.Duration. Invalid input yields 0 and is logged.
func ParseStringTime(timeString string) time.Duration {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" {
		return 0
	}

	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"ms", time.Millisecond},
		{"s", time.Second},
		{"m", time.Minute},
		{"h", time.Hour},
		{"d", 24 * time.Hour},
	}

	for _, u := range units {
		if !strings.HasSuffix(timeString, u.suffix) {
			continue
		}
		number, err := strconv.Atoi(strings.TrimSuffix(timeString, u.suffix))
		if err != nil {
			logger.ErrorF("Error parsing time string: %s", err.Error())
			return 0
		}
		return time.Duration(number) * u.unit
	}

	logger.ErrorF("invalid time format: %s", timeString)
	return 0
}
