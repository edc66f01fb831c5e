// Package clock provides a current-time tool.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/okanta/relay"
)

// Register adds the "now" tool to the registry. now is overridable for
// tests via RegisterWithNow.
func Register(reg *relay.Registry) error {
	return RegisterWithNow(reg, time.Now)
}

// RegisterWithNow is Register with an injected clock.
func RegisterWithNow(reg *relay.Registry, now func() time.Time) error {
	params := []relay.Param{
		{Name: "timezone", Type: "string", Description: "IANA timezone name, e.g. \"Asia/Jakarta\" (default UTC)", Default: "UTC"},
	}
	return reg.Register("now",
		"Get the current date and time in RFC3339 format, optionally in a specific timezone.",
		params,
		func(ctx context.Context, args map[string]any) (any, error) {
			tz, _ := args["timezone"].(string)
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			return now().In(loc).Format(time.RFC3339), nil
		})
}
