package clock

import "time"

const layout = "2006-01-02T15:04:05Z"

// Clock is the time source used by the engine; tests replace it with Fixed.
type Clock func() time.Time

func System() time.Time {
	return time.Now().UTC()
}

// Fixed returns a clock frozen at t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

func Now() string {
	return time.Now().UTC().Format(layout)
}

func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}
