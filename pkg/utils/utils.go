package utils

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// IsDevelopment exposes internal error details in API responses.
var IsDevelopment = os.Getenv("DEVELOPMENT") == "true"

func Ptr[T any](v T) *T { return &v }

func HTTP500Debug(str string) *string {
	if IsDevelopment {
		return &str
	}
	return Ptr("Internal Server Error")
}

// Until renders how long d is, truncated to unit, without zero components:
// 2h, 1h30m, 45s. Anything shorter than unit renders as "0" followed by the
// unit's suffix.
func Until(d, unit time.Duration) string {
	if unit <= 0 {
		unit = time.Second
	}
	d = d.Truncate(unit)
	if d < 0 {
		d = -d
	}
	var b strings.Builder
	for _, part := range []struct {
		size   time.Duration
		suffix string
	}{{time.Hour, "h"}, {time.Minute, "m"}, {time.Second, "s"}} {
		if part.size < unit {
			break
		}
		if n := d / part.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, part.suffix)
			d -= n * part.size
		}
	}
	if b.Len() == 0 {
		switch {
		case unit >= time.Hour:
			return "0h"
		case unit >= time.Minute:
			return "0m"
		}
		return "0s"
	}
	return b.String()
}
