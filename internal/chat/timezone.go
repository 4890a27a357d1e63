package chat

import (
	"sync"
	"time"
	_ "time/tzdata" // zone names must resolve on hosts without zoneinfo

	"github.com/PaulBabatuyi/investchat/internal/data"
)

const dayLayout = "2006-01-02"

var locCache sync.Map // zone name -> *time.Location

// loadLocation resolves an IANA zone name, caching hits. It returns nil for
// empty or unknown names.
func loadLocation(name string) *time.Location {
	if name == "" {
		return nil
	}
	if loc, ok := locCache.Load(name); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil
	}
	locCache.Store(name, loc)
	return loc
}

// locationFor returns the zone timestamps are rendered in for u.
func (s *Service) locationFor(u *data.User) *time.Location {
	if u != nil {
		if loc := loadLocation(u.TimeZone); loc != nil {
			return loc
		}
	}
	return s.defaultLoc
}

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.RFC3339)
}

func formatTimePtr(t *time.Time, loc *time.Location) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := formatTime(*t, loc)
	return &s
}
