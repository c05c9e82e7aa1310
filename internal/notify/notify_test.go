package notify

import (
	"testing"

	"github.com/hearthctl/hearth/pkg/haws"
)

func TestMatcher(t *testing.T) {
	tests := []struct {
		patterns []string
		entity   string
		want     bool
	}{
		{[]string{"light.*"}, "light.kitchen", true},
		{[]string{"light.*"}, "sensor.temp", false},
		{[]string{"sensor.temp_*"}, "sensor.temp_outdoor", true},
		{[]string{"light.kitchen"}, "light.kitchen", true},
		{[]string{"light.*", "sensor.*"}, "sensor.temp", true},
		{[]string{}, "light.kitchen", false},
		{[]string{" "}, "light.kitchen", false},
		{[]string{"light.*"}, "", false},
	}
	for _, tc := range tests {
		m := NewMatcher(tc.patterns)
		if got := m.Match(tc.entity); got != tc.want {
			t.Errorf("Match(%v, %q) = %v; want %v", tc.patterns, tc.entity, got, tc.want)
		}
	}
}

func TestFormatStateChange(t *testing.T) {
	sc := haws.StateChange{
		EntityID: "light.kitchen",
		OldState: &haws.State{EntityID: "light.kitchen", State: "off"},
		NewState: &haws.State{
			EntityID:   "light.kitchen",
			State:      "on",
			Attributes: map[string]any{"friendly_name": "Kitchen Light"},
		},
	}
	if got := FormatStateChange(sc); got != "Kitchen Light: off -> on" {
		t.Errorf("FormatStateChange = %q", got)
	}

	// A removed entity has no new state.
	gone := haws.StateChange{
		EntityID: "light.closet",
		OldState: &haws.State{EntityID: "light.closet", State: "on"},
	}
	if got := FormatStateChange(gone); got != "light.closet: on -> unavailable" {
		t.Errorf("FormatStateChange(removed) = %q", got)
	}
}
