package domain

// CalendarEvent is the lightweight feed record derived from a task.
type CalendarEvent struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Start     Date   `json:"start"`
	AllDay    bool   `json:"all_day"`
	DetailURL string `json:"detail_url"`
}

// DateRange is an optionally bounded, inclusive range of days.
type DateRange struct {
	Start *Date
	End   *Date
}

// ParseDateRange builds a range from raw bounds. A blank or malformed bound
// is dropped rather than reported.
func ParseDateRange(start, end string) DateRange {
	var r DateRange
	if d, err := ParseDate(start); err == nil {
		r.Start = &d
	}
	if d, err := ParseDate(end); err == nil {
		r.End = &d
	}
	return r
}

func (r DateRange) Contains(d Date) bool {
	if r.Start != nil && d.Before(*r.Start) {
		return false
	}
	if r.End != nil && d.After(*r.End) {
		return false
	}
	return true
}

// Filter converts the range into due date bounds.
func (r DateRange) Filter() Filter {
	return Filter{DueAfter: r.Start, DueBefore: r.End}
}
