// Package devicestate holds the in-memory record of the currently
// associated peer, mutated only through a guarded API and observable by any
// component (spec.md section 4.5). It is the shared boundary between the
// Orchestrator (the sole writer) and the bus service surface (a reader).
//
// Grounded on the teacher's internal/podstate/state.go + coordinator.go
// sync.RWMutex guard, generalized from a BLE/AAP dual-source battery
// snapshot to the full peer data model in spec.md section 3.
package devicestate

import (
	"sync"

	"github.com/mstroecker/airpodsd/internal/model"
)

// Snapshot is an immutable copy of the device state at a point in time. All
// reads return a Snapshot rather than a pointer into live state, so
// consumers may retain it across suspension points (spec.md section 9).
type Snapshot struct {
	Connected bool

	DeviceName    string
	DeviceAddress string
	DeviceModel   model.Model
	DisplayName   string

	BatteryLeft, BatteryRight, BatteryCase    int
	ChargingLeft, ChargingRight, ChargingCase bool

	NoiseControlMode    model.NoiseControlMode
	ConversationalAware bool
	AdaptiveLevel       int

	LeftInEar, RightInEar bool
	PrimaryLeft           bool

	ListenOff, ListenTransparency, ListenANC, ListenAdaptive bool

	EarPauseMode model.EarPausePolicy
}

// IsHeadphones, SupportsANC and SupportsAdaptive mirror the bus surface's
// derived properties.
func (s Snapshot) IsHeadphones() bool    { return s.DeviceModel.IsHeadphones() }
func (s Snapshot) SupportsANC() bool     { return s.DeviceModel.SupportsANC() }
func (s Snapshot) SupportsAdaptive() bool { return s.DeviceModel.SupportsAdaptive() }

// State is the guarded device state. Construct it with New, which sets
// battery levels to the "not reported" sentinel and PrimaryLeft to true;
// the zero value has battery levels of 0 and PrimaryLeft false.
//
// NOTE: per spec.md section 9, the source this protocol was reverse
// engineered from never updates which earbud is primary after construction;
// this is a latent bug the spec permits but does not require fixing. This
// rewrite reproduces it intentionally: PrimaryLeft is set only from
// defaults() (in New and Reset) and is never mutated by any inbound frame.
type State struct {
	mu sync.RWMutex
	s  Snapshot
}

// New returns a State initialized to its disconnected defaults.
func New() *State {
	st := &State{}
	st.s = defaults()
	return st
}

func defaults() Snapshot {
	return Snapshot{
		BatteryLeft:  model.BatteryUnavailable,
		BatteryRight: model.BatteryUnavailable,
		BatteryCase:  model.BatteryUnavailable,
		PrimaryLeft:  true,
	}
}

// Snapshot returns a copy of the current state.
func (st *State) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Reset restores disconnected defaults: identity cleared, batteries back to
// sentinel, noise/ear state back to defaults (spec.md section 4.4, "Failure
// semantics"). EarPauseMode is a global policy rather than per-peer state
// (spec.md section 7: it "remains settable and persists" with nothing
// connected), so it survives the reset instead of being wiped to Disabled.
func (st *State) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	earPause := st.s.EarPauseMode
	st.s = defaults()
	st.s.EarPauseMode = earPause
}

// SetConnected sets the connected flag and, on connect, the peer identity.
// Model is left at its current value (Unknown on a fresh session) until a
// metadata frame arrives.
func (st *State) SetConnected(connected bool, identity model.Identity) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Connected = connected
	if connected {
		st.s.DeviceAddress = identity.Address
		st.s.DeviceName = identity.Name
	}
}

// SetBattery updates the three battery components. A nil component leaves
// the previous value in place, per spec.md's "components not present in the
// frame retain sentinel values" invariant.
func (st *State) SetBattery(left, right, caseB *model.Battery) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if left != nil {
		st.s.BatteryLeft = left.Level
		st.s.ChargingLeft = left.Status == model.StatusCharging
	}
	if right != nil {
		st.s.BatteryRight = right.Level
		st.s.ChargingRight = right.Status == model.StatusCharging
	}
	if caseB != nil {
		st.s.BatteryCase = caseB.Level
		st.s.ChargingCase = caseB.Status == model.StatusCharging
	}
}

// SetEarDetection updates the left/right in-ear booleans, resolving
// primary/secondary via the current PrimaryLeft orientation bit.
func (st *State) SetEarDetection(primaryInEar, secondaryInEar bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.PrimaryLeft {
		st.s.LeftInEar, st.s.RightInEar = primaryInEar, secondaryInEar
	} else {
		st.s.RightInEar, st.s.LeftInEar = primaryInEar, secondaryInEar
	}
}

// SetNoiseControlMode updates the active noise-control mode.
func (st *State) SetNoiseControlMode(mode model.NoiseControlMode) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.NoiseControlMode = mode
}

// SetConversationalAware updates the conversational awareness flag.
func (st *State) SetConversationalAware(enabled bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.ConversationalAware = enabled
}

// SetAdaptiveLevel updates the adaptive noise level, clamped to [0, 100].
func (st *State) SetAdaptiveLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.AdaptiveLevel = level
}

// SetListeningModes updates the four listening-mode booleans.
func (st *State) SetListeningModes(modes model.ListeningModes) {
	off, transparency, anc, adaptive := modes.Bits()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.ListenOff, st.s.ListenTransparency = off, transparency
	st.s.ListenANC, st.s.ListenAdaptive = anc, adaptive
}

// ListeningModes returns the current listening-modes bitmask.
func (st *State) ListeningModes() model.ListeningModes {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return model.ListeningModesFromBits(st.s.ListenOff, st.s.ListenTransparency, st.s.ListenANC, st.s.ListenAdaptive)
}

// SetModel updates the device model, e.g. once resolved from a metadata
// frame's model number.
func (st *State) SetModel(m model.Model) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.DeviceModel = m
}

// SetDisplayName sets the user-chosen display name, independent of the
// Bluetooth-advertised device name.
func (st *State) SetDisplayName(name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.DisplayName = name
}

// SetEarPauseMode sets the global ear-pause policy. This field is settable
// even while no peer is connected, per spec.md section 7.
func (st *State) SetEarPauseMode(mode model.EarPausePolicy) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.EarPauseMode = mode
}
