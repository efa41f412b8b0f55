package calendar

import (
	ics "github.com/arran4/golang-ical"
)

// ExportICS renders the merged event list of one class as an iCalendar
// document, so members can subscribe from an external calendar application.
func (s *Store) ExportICS(classID string) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//classsync//calendar//EN")

	for _, ev := range s.Events() {
		if classID != "" && ev.ClassID != classID {
			continue
		}
		vevent := cal.AddEvent(ev.ID)
		vevent.SetSummary(ev.Title)
		vevent.SetStartAt(ev.Start)
		if ev.End.IsZero() {
			vevent.SetEndAt(ev.Start)
		} else {
			vevent.SetEndAt(ev.End)
		}
		if ev.Description != "" {
			vevent.SetDescription(ev.Description)
		}
		vevent.SetProperty(ics.ComponentPropertyCategories, string(ev.Kind))
	}
	return cal.Serialize()
}
