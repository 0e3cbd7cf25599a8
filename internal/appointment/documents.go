package appointment

import (
	"strings"
	"time"
)

// dayDoc is the stored form of one weekday, shared by the JSONB column and
// the Mongo sub-document.
type dayDoc struct {
	Enabled     bool `json:"enabled" bson:"enabled"`
	StartMinute int  `json:"start_minute" bson:"start_minute"`
	EndMinute   int  `json:"end_minute" bson:"end_minute"`
}

func daysToDocs(days map[time.Weekday]DayAvailability) map[string]dayDoc {
	out := make(map[string]dayDoc, len(days))
	for wd, d := range days {
		out[strings.ToLower(wd.String())] = dayDoc{
			Enabled:     d.Enabled,
			StartMinute: int(d.StartTime),
			EndMinute:   int(d.EndTime),
		}
	}
	return out
}

func docsToDays(docs map[string]dayDoc) map[time.Weekday]DayAvailability {
	out := make(map[time.Weekday]DayAvailability, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		d := docs[strings.ToLower(wd.String())]
		out[wd] = DayAvailability{
			Enabled:   d.Enabled,
			StartTime: ClockTime(d.StartMinute),
			EndTime:   ClockTime(d.EndMinute),
		}
	}
	return out
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if t == name || t == name[:3] {
			return wd, true
		}
	}
	return 0, false
}
