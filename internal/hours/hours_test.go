// ABOUTME: Tests for the weekly operating-hours gate.
// ABOUTME: Covers weekday/Saturday ranges, Sunday closure, and boundary minutes.

package hours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// at builds a local time on a known week: 2024-01-01 is a Monday.
func at(day time.Weekday, hour, min int) time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local) // Monday
	return base.AddDate(0, 0, (int(day)+6)%7).Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func TestIsOpen_Weekday(t *testing.T) {
	s := Default()

	assert.True(t, s.IsOpen(at(time.Monday, 7, 0)))
	assert.True(t, s.IsOpen(at(time.Wednesday, 12, 30)))
	assert.True(t, s.IsOpen(at(time.Friday, 20, 59)))

	assert.False(t, s.IsOpen(at(time.Monday, 6, 59)))
	assert.False(t, s.IsOpen(at(time.Tuesday, 22, 0)))
}

func TestIsOpen_BoundaryMinuteCountsAsOpen(t *testing.T) {
	s := Default()

	// Exactly at the close hour is still open; one minute later is not.
	assert.True(t, s.IsOpen(at(time.Monday, 21, 0)))
	assert.False(t, s.IsOpen(at(time.Monday, 21, 1)))

	assert.True(t, s.IsOpen(at(time.Saturday, 20, 0)))
	assert.False(t, s.IsOpen(at(time.Saturday, 20, 1)))
}

func TestIsOpen_Saturday(t *testing.T) {
	s := Default()

	assert.True(t, s.IsOpen(at(time.Saturday, 7, 0)))
	assert.True(t, s.IsOpen(at(time.Saturday, 19, 59)))
	assert.False(t, s.IsOpen(at(time.Saturday, 6, 0)))
}

func TestIsOpen_SundayAlwaysClosed(t *testing.T) {
	s := Default()

	for hour := 0; hour < 24; hour++ {
		assert.False(t, s.IsOpen(at(time.Sunday, hour, 0)), "hour %d", hour)
	}
}

func TestNextOpenDescription(t *testing.T) {
	s := Default()

	assert.Equal(t, "Abrimos às 7h", s.NextOpenDescription(at(time.Monday, 5, 0)))
	assert.Equal(t, "Abrimos amanhã às 7h", s.NextOpenDescription(at(time.Tuesday, 22, 0)))
	assert.Equal(t, "Abrimos amanhã às 7h", s.NextOpenDescription(at(time.Friday, 23, 0)))
	assert.Equal(t, "Fechado domingo. Abrimos segunda às 7h", s.NextOpenDescription(at(time.Saturday, 21, 0)))
	assert.Equal(t, "Fechado domingo. Abrimos segunda às 7h", s.NextOpenDescription(at(time.Sunday, 12, 0)))
	assert.Equal(t, "Estamos abertos agora", s.NextOpenDescription(at(time.Thursday, 10, 0)))
}

func TestStatusLine(t *testing.T) {
	s := Default()

	assert.Equal(t, "ABERTA AGORA - Fecha às 21h", s.StatusLine(at(time.Monday, 10, 0)))
	assert.Equal(t, "ABERTA AGORA - Fecha às 20h", s.StatusLine(at(time.Saturday, 10, 0)))
	assert.Contains(t, s.StatusLine(at(time.Sunday, 10, 0)), "FECHADA")
}
