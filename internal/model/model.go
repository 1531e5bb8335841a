// Package model holds the peer identity and capability types shared by the
// AAP codec, the device state and the bus service surface.
package model

import "strings"

// Model is a closed enumeration of AirPods/Beats model variants that the
// daemon can recognize from a metadata frame's model-number string.
type Model int

const (
	ModelUnknown Model = iota
	ModelAirPods1
	ModelAirPods2
	ModelAirPods3
	ModelAirPodsPro
	ModelAirPodsPro2
	ModelAirPodsMax
	ModelAirPodsMax2
	ModelPowerbeatsPro
	ModelBeatsFitPro
	ModelBeatsStudioBuds
	ModelBeatsStudioBudsPlus
	ModelBeatsSolo
)

func (m Model) String() string {
	switch m {
	case ModelAirPods1:
		return "AirPods (1st generation)"
	case ModelAirPods2:
		return "AirPods (2nd generation)"
	case ModelAirPods3:
		return "AirPods (3rd generation)"
	case ModelAirPodsPro:
		return "AirPods Pro"
	case ModelAirPodsPro2:
		return "AirPods Pro 2"
	case ModelAirPodsMax:
		return "AirPods Max"
	case ModelAirPodsMax2:
		return "AirPods Max (USB-C)"
	case ModelPowerbeatsPro:
		return "Powerbeats Pro"
	case ModelBeatsFitPro:
		return "Beats Fit Pro"
	case ModelBeatsStudioBuds:
		return "Beats Studio Buds"
	case ModelBeatsStudioBudsPlus:
		return "Beats Studio Buds+"
	case ModelBeatsSolo:
		return "Beats Solo"
	default:
		return "Unknown"
	}
}

// SupportsANC reports whether this model implements active noise cancellation.
func (m Model) SupportsANC() bool {
	switch m {
	case ModelAirPodsPro, ModelAirPodsPro2, ModelAirPodsMax, ModelAirPodsMax2,
		ModelBeatsFitPro, ModelBeatsStudioBuds, ModelBeatsStudioBudsPlus:
		return true
	default:
		return false
	}
}

// SupportsAdaptive reports whether this model implements adaptive noise control.
func (m Model) SupportsAdaptive() bool {
	switch m {
	case ModelAirPodsPro2, ModelAirPodsMax2, ModelBeatsStudioBudsPlus:
		return true
	default:
		return false
	}
}

// IsHeadphones reports whether this model is an over-ear single-battery form
// factor rather than a true-wireless earbud pair.
func (m Model) IsHeadphones() bool {
	switch m {
	case ModelAirPodsMax, ModelAirPodsMax2:
		return true
	default:
		return false
	}
}

// modelsByNumber maps the model-number string reported in an AAP metadata
// frame to the closed Model enumeration. Unknown model numbers resolve to
// ModelUnknown, which is not an error (spec.md section 3).
var modelsByNumber = map[string]Model{
	"A2031": ModelAirPods1,
	"A2032": ModelAirPods1,
	"A2564": ModelAirPods2,
	"A2565": ModelAirPods2,
	"A3047": ModelAirPods3,
	"A3048": ModelAirPods3,
	"A2084": ModelAirPodsPro,
	"A2083": ModelAirPodsPro,
	"A2698": ModelAirPodsPro2,
	"A2699": ModelAirPodsPro2,
	"A3053": ModelAirPodsPro2,
	"A3054": ModelAirPodsPro2,
	"A2096": ModelAirPodsMax,
	"A3028": ModelAirPodsMax2,
	"A2510": ModelPowerbeatsPro,
	"A2884": ModelBeatsFitPro,
	"A2512": ModelBeatsStudioBuds,
	"A3003": ModelBeatsStudioBudsPlus,
	"A2911": ModelBeatsSolo,
}

// ModelFromNumber looks up the Model for a model-number string received at
// runtime via a metadata frame. An unrecognized number yields ModelUnknown,
// which callers must not treat as an error.
func ModelFromNumber(number string) Model {
	if m, ok := modelsByNumber[strings.ToUpper(strings.TrimSpace(number))]; ok {
		return m
	}
	return ModelUnknown
}

// BatteryComponent identifies which physical battery a reading belongs to.
// Bit values are carried over unchanged from the AAP wire encoding.
type BatteryComponent uint8

const (
	ComponentSingle BatteryComponent = 0x01 // headphones form factor, routed to Left
	ComponentRight  BatteryComponent = 0x02
	ComponentLeft   BatteryComponent = 0x04
	ComponentCase   BatteryComponent = 0x08
)

func (c BatteryComponent) String() string {
	switch c {
	case ComponentSingle, ComponentLeft:
		return "Left"
	case ComponentRight:
		return "Right"
	case ComponentCase:
		return "Case"
	default:
		return "Unknown"
	}
}

// BatteryStatus is the charging status tag of a single battery component.
type BatteryStatus uint8

const (
	StatusUnknown      BatteryStatus = 0
	StatusCharging     BatteryStatus = 0x01
	StatusDischarging  BatteryStatus = 0x02
	StatusDisconnected BatteryStatus = 0x04
)

func (s BatteryStatus) String() string {
	switch s {
	case StatusCharging:
		return "Charging"
	case StatusDischarging:
		return "Discharging"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// BatteryUnavailable is the sentinel battery level meaning "not reported".
const BatteryUnavailable = -1

// Battery is a single battery component's level and status.
type Battery struct {
	Level  int // percent, or BatteryUnavailable
	Status BatteryStatus
}

// NoiseControlMode is the currently active noise-control mode of the peer.
type NoiseControlMode uint8

const (
	NoiseControlOff NoiseControlMode = iota + 1
	NoiseControlANC
	NoiseControlTransparency
	NoiseControlAdaptive
)

func (n NoiseControlMode) String() string {
	switch n {
	case NoiseControlANC:
		return "anc"
	case NoiseControlTransparency:
		return "transparency"
	case NoiseControlAdaptive:
		return "adaptive"
	default:
		return "off"
	}
}

// ParseNoiseControlMode matches a string (case-insensitive, with the
// documented aliases) to a NoiseControlMode. Unknown strings map to Off,
// per spec.md section 6.
func ParseNoiseControlMode(s string) NoiseControlMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "anc", "noise_cancellation", "cancellation":
		return NoiseControlANC
	case "transparency", "transparent":
		return NoiseControlTransparency
	case "adaptive":
		return NoiseControlAdaptive
	default:
		return NoiseControlOff
	}
}

// ListeningModes is the bitmask of modes selectable in the peer's long-press
// cycle. At least two bits must be set whenever the peer is connected.
type ListeningModes uint8

const (
	ListeningModeOff          ListeningModes = 0x01
	ListeningModeTransparency ListeningModes = 0x02
	ListeningModeANC          ListeningModes = 0x04
	ListeningModeAdaptive     ListeningModes = 0x08
)

// Bits returns the four booleans (off, transparency, anc, adaptive) in that order.
func (l ListeningModes) Bits() (off, transparency, anc, adaptive bool) {
	return l&ListeningModeOff != 0, l&ListeningModeTransparency != 0,
		l&ListeningModeANC != 0, l&ListeningModeAdaptive != 0
}

// ListeningModesFromBits builds a ListeningModes bitmask from the four
// booleans in (off, transparency, anc, adaptive) order.
func ListeningModesFromBits(off, transparency, anc, adaptive bool) ListeningModes {
	var l ListeningModes
	if off {
		l |= ListeningModeOff
	}
	if transparency {
		l |= ListeningModeTransparency
	}
	if anc {
		l |= ListeningModeANC
	}
	if adaptive {
		l |= ListeningModeAdaptive
	}
	return l
}

// PopCount returns the number of set mode bits.
func (l ListeningModes) PopCount() int {
	n := 0
	for b := ListeningModes(1); b != 0; b <<= 1 {
		if l&b != 0 {
			n++
		}
	}
	return n
}

// EarPausePolicy selects how ear-detection edges drive media pause/resume.
type EarPausePolicy int

const (
	EarPauseDisabled EarPausePolicy = iota
	EarPauseOneOut
	EarPauseBothOut
)

// Identity is a peer's Bluetooth identity as advertised by BlueZ.
type Identity struct {
	Address string // canonical colon-separated uppercase hex MAC
	Name    string
}

// CanonicalAddress upper-cases the colon-separated hex form of a Bluetooth
// MAC address and trims surrounding whitespace. It does not check that the
// result is a well-formed address, and it leaves out the byte-reversal step
// of the teacher's parseMACAddress (internal/aap/client.go), which belongs
// to the L2CAP transport, not the identity model.
func CanonicalAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

// AddressToConfigGroup rewrites a MAC address into the per-peer config group
// name used by the config store: colons replaced with underscores.
func AddressToConfigGroup(addr string) string {
	return strings.ReplaceAll(CanonicalAddress(addr), ":", "_")
}
