package fetch

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter converts a Retry-After header value, either delay seconds or an
// HTTP-date, into a wait duration relative to now, capped at MaxRetryAfter. Dates
// in the past yield zero. The boolean is false when the header is empty or
// malformed.
func ParseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if isDigits(header) {
		seconds, err := strconv.ParseUint(header, 10, 64)
		if errors.Is(err, strconv.ErrRange) || seconds > uint64(MaxRetryAfter/time.Second) {
			return MaxRetryAfter, true
		}
		if err != nil {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	at, err := http.ParseTime(header)
	if err != nil {
		return 0, false
	}
	if d := at.Sub(now); d > 0 {
		return min(d, MaxRetryAfter), true
	}
	return 0, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
