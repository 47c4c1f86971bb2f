package motion

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Intent
	}{
		{"stop", `{"type":"stop"}`, Stop{}},
		{"default type", `{}`, Stop{}},
		{"direction", `{"type":"direction","direction":"rotate_left","speed":120}`, Directional{Direction: RotateLeft, Speed: 120}},
		{"direction default speed", `{"type":"direction","direction":"forward"}`, Directional{Direction: Forward, Speed: DefaultSpeed}},
		{"direction zero speed", `{"type":"direction","direction":"backward","speed":0}`, Directional{Direction: Backward, Speed: 0}},
		{"unknown direction", `{"type":"direction","direction":"up"}`, Stop{}},
		{"missing direction", `{"type":"direction"}`, Stop{}},
		{"xy", `{"type":"xy","x":-40,"y":180}`, Vector{X: -40, Y: 180}},
		{"xy defaults", `{"type":"xy"}`, Vector{}},
		{"unknown type", `{"type":"dance"}`, Stop{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.body), DefaultSpeed)
			if err != nil {
				t.Fatalf("ParseCommand failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseCommand(%s) = %#v, want %#v", tt.body, got, tt.want)
			}
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, body := range []string{"", "{", "not json", `{"type":1}`} {
		if _, err := ParseCommand([]byte(body), DefaultSpeed); err == nil {
			t.Errorf("Expected error for %q", body)
		}
	}
}

func TestDirectionRoundTrip(t *testing.T) {
	for _, d := range []Direction{Forward, Backward, Left, Right, RotateLeft, RotateRight} {
		got, ok := ParseDirection(d.String())
		if !ok || got != d {
			t.Errorf("ParseDirection(%q) = %v,%v", d.String(), got, ok)
		}
	}
	if _, ok := ParseDirection("stop"); ok {
		t.Errorf("Expected 'stop' not to parse as a heading")
	}
}

func TestDirectionText(t *testing.T) {
	for _, d := range []Direction{None, Forward, RotateRight} {
		text, _ := d.MarshalText()
		var got Direction
		if err := got.UnmarshalText(text); err != nil || got != d {
			t.Errorf("UnmarshalText(%s) = %v, %v", text, got, err)
		}
	}
	var d Direction
	if err := d.UnmarshalText([]byte("sideways")); err == nil {
		t.Error("Expected error for unknown direction")
	}
}
