// ABOUTME: Weekly operating-hours gate for the attendant service.
// ABOUTME: Pure wall-clock checks: is the store open now, and when does it open next.

package hours

import (
	"fmt"
	"time"
)

// Schedule is the fixed weekly opening table: one range Monday through Friday,
// one range on Saturday, closed all Sunday. Hours are local 24h values.
type Schedule struct {
	WeekdayOpen   int
	WeekdayClose  int
	SaturdayOpen  int
	SaturdayClose int
}

// Default matches the store's published hours.
func Default() Schedule {
	return Schedule{
		WeekdayOpen:   7,
		WeekdayClose:  21,
		SaturdayOpen:  7,
		SaturdayClose: 20,
	}
}

// IsOpen reports whether the store is open at the given instant.
// The boundary minute at the open and close hour counts as open:
// at exactly 21:00 the store is still open, at 21:01 it is closed.
func (s Schedule) IsOpen(now time.Time) bool {
	open, close := s.rangeFor(now.Weekday())
	if open < 0 {
		return false
	}

	h, m := now.Hour(), now.Minute()
	if h < open || h > close {
		return false
	}
	if h == close && m > 0 {
		return false
	}
	return true
}

// NextOpenDescription returns a short customer-facing phrase describing when
// the store opens next, relative to the given instant.
func (s Schedule) NextOpenDescription(now time.Time) string {
	switch day := now.Weekday(); day {
	case time.Sunday:
		return fmt.Sprintf("Fechado domingo. Abrimos segunda às %dh", s.WeekdayOpen)
	case time.Saturday:
		if now.Hour() < s.SaturdayOpen {
			return fmt.Sprintf("Abrimos às %dh", s.SaturdayOpen)
		}
		if !s.IsOpen(now) {
			return fmt.Sprintf("Fechado domingo. Abrimos segunda às %dh", s.WeekdayOpen)
		}
	default:
		if now.Hour() < s.WeekdayOpen {
			return fmt.Sprintf("Abrimos às %dh", s.WeekdayOpen)
		}
		if !s.IsOpen(now) {
			if day == time.Friday {
				return fmt.Sprintf("Abrimos amanhã às %dh", s.SaturdayOpen)
			}
			return fmt.Sprintf("Abrimos amanhã às %dh", s.WeekdayOpen)
		}
	}
	return "Estamos abertos agora"
}

// StatusLine returns the open/closed banner used by the hours menu option.
func (s Schedule) StatusLine(now time.Time) string {
	if s.IsOpen(now) {
		_, close := s.rangeFor(now.Weekday())
		return fmt.Sprintf("ABERTA AGORA - Fecha às %dh", close)
	}
	return "FECHADA - " + s.NextOpenDescription(now)
}

// Table returns the published weekly hours, one line per entry.
func (s Schedule) Table() []string {
	return []string{
		fmt.Sprintf("Segunda a Sexta: %dh às %dh", s.WeekdayOpen, s.WeekdayClose),
		fmt.Sprintf("Sábado: %dh às %dh", s.SaturdayOpen, s.SaturdayClose),
		"Domingo: Fechado",
	}
}

// rangeFor returns the open/close hours for a weekday, or (-1, -1) when closed.
func (s Schedule) rangeFor(day time.Weekday) (int, int) {
	switch day {
	case time.Sunday:
		return -1, -1
	case time.Saturday:
		return s.SaturdayOpen, s.SaturdayClose
	default:
		return s.WeekdayOpen, s.WeekdayClose
	}
}
