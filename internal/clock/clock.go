package clock

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Clock yields the current time in the application zone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New returns a clock for loc. A nil loc means the host zone.
func New(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return Clock{loc: loc, now: time.Now}
}

// Fixed returns a clock frozen at t, in loc. Used in tests.
func Fixed(t time.Time, loc *time.Location) Clock {
	c := New(loc)
	c.now = func() time.Time { return t }
	return c
}

// LoadLocation resolves a configured zone name. Empty or SYSTEM selects the
// host zone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "SYSTEM") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown timezone %q", name)
	}
	return loc, nil
}

// Now returns the current time in the application zone.
func (c Clock) Now() time.Time {
	if c.now == nil {
		return time.Now().In(c.Location())
	}
	return c.now().In(c.Location())
}

// In converts t to the application zone.
func (c Clock) In(t time.Time) time.Time {
	return t.In(c.Location())
}

// Location returns the application zone.
func (c Clock) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}
