package fetch

import (
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"2", 2 * time.Second, true},
		{" 12 ", 12 * time.Second, true},
		{"15", 15 * time.Second, true},
		{"16", MaxRetryAfter, true},
		{"3600", MaxRetryAfter, true},
		{"9223372037", MaxRetryAfter, true},
		{"18446744074", MaxRetryAfter, true},
		{"99999999999999999999999", MaxRetryAfter, true},
		{"1.5", 0, false},
		{"0", 0, true},
		{"-4", 0, false},
		{"soon", 0, false},
		{now.Add(5 * time.Second).Format(http.TimeFormat), 5 * time.Second, true},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{now.Add(time.Hour).Format(http.TimeFormat), MaxRetryAfter, true},
		{"Sunday, 01-Mar-26 12:00:10 GMT", 10 * time.Second, true},
	}
	for _, c := range cases {
		t.Run(c.header, func(t *testing.T) {
			got, ok := ParseRetryAfter(c.header, now)
			if ok != c.ok || got != c.want {
				t.Errorf("ParseRetryAfter(%q) = %s, %v; want %s, %v", c.header, got, ok, c.want, c.ok)
			}
		})
	}
}
