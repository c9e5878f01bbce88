// ABOUTME: Built-in tools that execute in-process: echo, clock, word_count
// ABOUTME: Registered into the catalog at gateway startup

package tools

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Builtins returns the in-process tools. now supplies the clock tool's time;
// nil means time.Now.
func Builtins(now func() time.Time) []*Tool {
	if now == nil {
		now = time.Now
	}
	return []*Tool{
		{
			Name:        "echo",
			Description: "Repeat the input back",
			Handler: func(_ context.Context, input string) (string, error) {
				return input, nil
			},
		},
		{
			Name:        "clock",
			Description: "Current time in RFC 3339, optionally in the named IANA zone",
			Handler: func(_ context.Context, input string) (string, error) {
				t := now()
				if zone := strings.TrimSpace(input); zone != "" {
					loc, err := time.LoadLocation(zone)
					if err != nil {
						return "", err
					}
					t = t.In(loc)
				}
				return t.Format(time.RFC3339), nil
			},
		},
		{
			Name:        "word_count",
			Description: "Count whitespace-separated words in the input",
			Handler: func(_ context.Context, input string) (string, error) {
				return strconv.Itoa(len(strings.Fields(input))), nil
			},
		},
	}
}
