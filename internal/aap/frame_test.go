package aap

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mstroecker/airpodsd/internal/model"
)

func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	var out []byte
	var hi byte
	have := false
	for _, c := range s {
		if c == ' ' {
			continue
		}
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = byte(c - '0')
		case c >= 'A' && c <= 'F':
			v = byte(c-'A') + 10
		case c >= 'a' && c <= 'f':
			v = byte(c-'a') + 10
		default:
			t.Fatalf("bad hex char %q", c)
		}
		if !have {
			hi = v
			have = true
		} else {
			out = append(out, hi<<4|v)
			have = false
		}
	}
	return out
}

// S1 — battery frame (earbuds), per spec.md section 8.
func TestParseBattery_Earbuds(t *testing.T) {
	buf := hexBytes(t, "04 00 04 00 04 00 03 04 00 5A 02 00 02 00 50 02 00 08 00 64 01 00")
	frame, err := Parse(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bf := frame.Battery
	if bf == nil {
		t.Fatal("expected battery frame")
	}
	if bf.Left == nil || bf.Left.Level != 90 || bf.Left.Status != model.StatusDischarging {
		t.Fatalf("left battery mismatch: %+v", bf.Left)
	}
	if bf.Right == nil || bf.Right.Level != 80 || bf.Right.Status != model.StatusDischarging {
		t.Fatalf("right battery mismatch: %+v", bf.Right)
	}
	if bf.Case == nil || bf.Case.Level != 100 || bf.Case.Status != model.StatusCharging {
		t.Fatalf("case battery mismatch: %+v", bf.Case)
	}
}

// S2 — battery frame (headphones), single component routed to Left.
func TestParseBattery_Headphones(t *testing.T) {
	buf := hexBytes(t, "04 00 04 00 04 00 01 01 00 46 02 00")
	frame, err := Parse(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bf := frame.Battery
	if bf.Left == nil || bf.Left.Level != 70 || bf.Left.Status != model.StatusDischarging {
		t.Fatalf("left battery mismatch: %+v", bf.Left)
	}
	if bf.Right != nil {
		t.Fatalf("expected right battery absent, got %+v", bf.Right)
	}
	if bf.Case != nil {
		t.Fatalf("expected case battery absent, got %+v", bf.Case)
	}
}

func TestParseBattery_LevelOver100IsUnavailable(t *testing.T) {
	buf := hexBytes(t, "04 00 04 00 04 00 01 04 00 7F 02 00")
	frame, err := Parse(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Battery.Left.Level != model.BatteryUnavailable {
		t.Fatalf("expected unavailable sentinel, got %d", frame.Battery.Left.Level)
	}
}

func TestParseEarDetection(t *testing.T) {
	buf := hexBytes(t, "04 00 04 00 06 00 01 00")
	frame, err := Parse(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.EarState.PrimaryInEar {
		t.Fatal("expected primary out of ear")
	}
	if !frame.EarState.SecondaryInEar {
		t.Fatal("expected secondary in ear")
	}
}

func TestParseInvalidHeader(t *testing.T) {
	buf := hexBytes(t, "AA BB CC DD 04 00")
	_, err := Parse(buf)
	if !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestParseUnknownOpcodeIsDistinct(t *testing.T) {
	buf := hexBytes(t, "04 00 04 00 FE 00")
	_, err := Parse(buf)
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
}

func TestParseIncomplete(t *testing.T) {
	buf := hexBytes(t, "04 00 04")
	_, err := Parse(buf)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestParseMetadata(t *testing.T) {
	payload := append([]byte{0x04, 0x00, 0x04, 0x00, 0x1D, 0x00}, make([]byte, 6)...)
	payload = append(payload, []byte("My AirPods Pro\x00A2699\x00Apple Inc.\x00")...)
	frame, err := Parse(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Metadata.DeviceName != "My AirPods Pro" {
		t.Fatalf("unexpected device name %q", frame.Metadata.DeviceName)
	}
	if frame.Metadata.ModelNumber != "A2699" {
		t.Fatalf("unexpected model number %q", frame.Metadata.ModelNumber)
	}
	if frame.Metadata.Manufacturer != "Apple Inc." {
		t.Fatalf("unexpected manufacturer %q", frame.Metadata.Manufacturer)
	}
}

// S4 — noise-control command builds the exact wire bytes.
func TestBuildNoiseControl_ANC(t *testing.T) {
	got := BuildNoiseControl(model.NoiseControlANC)
	want := hexBytes(t, "04 00 04 00 09 00 0D 02 00 00 00")
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

// Property 4: parse(build(x)) = Ok(x) for every round-trippable command class.
func TestRoundTrip_NoiseControl(t *testing.T) {
	for _, mode := range []model.NoiseControlMode{
		model.NoiseControlOff, model.NoiseControlANC,
		model.NoiseControlTransparency, model.NoiseControlAdaptive,
	} {
		frame, err := Parse(BuildNoiseControl(mode))
		if err != nil {
			t.Fatalf("mode %v: %v", mode, err)
		}
		if frame.Control.NoiseControlMode != mode {
			t.Fatalf("mode %v: got %v", mode, frame.Control.NoiseControlMode)
		}
	}
}

func TestRoundTrip_ListeningModes(t *testing.T) {
	modes := model.ListeningModesFromBits(false, true, true, false)
	frame, err := Parse(BuildListeningModes(modes))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Control.ListeningModes != modes {
		t.Fatalf("got %v, want %v", frame.Control.ListeningModes, modes)
	}
}

func TestRoundTrip_ConversationalAwareness(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		frame, err := Parse(BuildConversationalAwareness(enabled))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if frame.Control.ConversationalAware != enabled {
			t.Fatalf("got %v, want %v", frame.Control.ConversationalAware, enabled)
		}
	}
}

// Property 2 + round-trip: adaptive level command always lands in [0, 100].
func TestRoundTrip_AdaptiveLevelClamped(t *testing.T) {
	cases := []struct{ in, want int }{
		{-5, 0}, {0, 0}, {50, 50}, {100, 100}, {200, 100},
	}
	for _, c := range cases {
		frame, err := Parse(BuildAdaptiveLevel(c.in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if frame.Control.AdaptiveLevel != c.want {
			t.Fatalf("input %d: got %d, want %d", c.in, frame.Control.AdaptiveLevel, c.want)
		}
		if frame.Control.AdaptiveLevel < 0 || frame.Control.AdaptiveLevel > 100 {
			t.Fatalf("adaptive level out of range: %d", frame.Control.AdaptiveLevel)
		}
	}
}
