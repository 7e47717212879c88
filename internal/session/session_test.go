// ABOUTME: Tests for stage names, input validation rules, and menu decoding.
// ABOUTME: Covers the 2-50 char name rule, 8-digit location codes, and menu actions.

package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_StringRoundTrip(t *testing.T) {
	for s := StageNew; s <= StageClosed; s++ {
		parsed, ok := ParseStage(s.String())
		assert.True(t, ok, "stage %d", s)
		assert.Equal(t, s, parsed)
	}
}

func TestParseStage_UnknownName(t *testing.T) {
	_, ok := ParseStage("talking_to_the_void")
	assert.False(t, ok)
}

func TestStage_InService(t *testing.T) {
	assert.True(t, StageInService.InService())
	assert.True(t, StageIdleWarned.InService())
	assert.False(t, StageChoosingAgent.InService())
	assert.False(t, StageClosed.InService())
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("João Silva"))
	assert.True(t, ValidName("  Li  ")) // 2 chars after trim

	assert.False(t, ValidName("J"))
	assert.False(t, ValidName(" J "))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName(strings.Repeat("a", 51)))
	assert.True(t, ValidName(strings.Repeat("a", 50)))
}

func TestNormalizeLocationCode(t *testing.T) {
	code, ok := NormalizeLocationCode("21810-025")
	assert.True(t, ok)
	assert.Equal(t, "21810025", code)

	code, ok = NormalizeLocationCode("  21810025  ")
	assert.True(t, ok)
	assert.Equal(t, "21810025", code)

	_, ok = NormalizeLocationCode("2181002")
	assert.False(t, ok)

	_, ok = NormalizeLocationCode("218100251")
	assert.False(t, ok)

	_, ok = NormalizeLocationCode("abc")
	assert.False(t, ok)
}

func TestDecodeMenu_PickAgent(t *testing.T) {
	a := DecodeMenu("1", 2, true)
	assert.Equal(t, MenuPickAgent, a.Kind)
	assert.Equal(t, 0, a.AgentIndex)

	a = DecodeMenu(" 2 ", 2, true)
	assert.Equal(t, MenuPickAgent, a.Kind)
	assert.Equal(t, 1, a.AgentIndex)
}

func TestDecodeMenu_Hours(t *testing.T) {
	a := DecodeMenu("3", 2, true)
	assert.Equal(t, MenuShowHours, a.Kind)

	// Without the hours entry, "3" is just free text
	a = DecodeMenu("3", 2, false)
	assert.Equal(t, MenuFreeText, a.Kind)
}

func TestDecodeMenu_FreeText(t *testing.T) {
	a := DecodeMenu("preciso de dipirona", 2, true)
	assert.Equal(t, MenuFreeText, a.Kind)
	assert.Equal(t, "preciso de dipirona", a.Text)

	a = DecodeMenu("0", 2, true)
	assert.Equal(t, MenuFreeText, a.Kind)

	a = DecodeMenu("4", 2, true)
	assert.Equal(t, MenuFreeText, a.Kind)
}
