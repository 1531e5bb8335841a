// Package bus exposes the daemon's device state and commands on the
// session message bus: a read-only property set, a small set of command
// methods, and connect/disconnect/change signals (spec.md section 4.6).
//
// Grounded on the teacher's internal/bluez/battery_provider.go, the one
// place in the teacher that exports a long-lived D-Bus object with
// hand-written introspection XML, a Properties.Get/GetAll pair and signal
// emission via conn.Emit — generalized here from a single BatteryProvider1
// object onto the fixed org.librepods.AirPods1 surface spec.md section 6
// names.
package bus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/mstroecker/airpodsd/internal/devicestate"
	"github.com/mstroecker/airpodsd/internal/model"
)

const (
	busNameName = "org.librepods.Daemon"
	objectPath  = "/org/librepods/AirPods"
	ifaceName   = "org.librepods.AirPods1"
)

// Commands is the set of callbacks the Orchestrator registers to handle bus
// method calls, one per command method. The callbacks return nothing:
// validation, building the matching AAP frame and sending it happen on the
// Orchestrator's side, and the surface itself only ever forwards the call
// and replies empty on the bus, per spec.md section 4.6.
type Commands struct {
	SetNoiseControlMode    func(mode model.NoiseControlMode)
	SetConversationalAware func(enabled bool)
	SetAdaptiveLevel       func(level int)
	SetEarPauseMode        func(mode model.EarPausePolicy)
	SetListeningModes      func(off, transparency, anc, adaptive bool)
	SetDisplayName         func(name string)
}

// Surface is the exported bus object. It delegates all content to a
// devicestate.State snapshot and all command handling to the registered
// Commands; it never itself decides protocol semantics.
type Surface struct {
	conn     *dbus.Conn
	state    *devicestate.State
	commands Commands
}

// Register connects to the session bus, acquires the well-known name and
// exports the object. Failure to acquire the name is fatal at startup
// (spec.md section 6 exit code 1).
func Register(state *devicestate.State, commands Commands) (*Surface, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("bus: connect session bus: %w", err)
	}

	s := &Surface{conn: conn, state: state, commands: commands}

	if err := conn.Export(s, objectPath, ifaceName); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: export methods: %w", err)
	}
	if err := conn.Export(propertiesHandler{s}, objectPath, "org.freedesktop.DBus.Properties"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: export properties: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectionXML), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: export introspection: %w", err)
	}

	reply, err := conn.RequestName(busNameName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus: name %s already owned", busNameName)
	}

	return s, nil
}

// Close releases the bus name and closes the connection.
func (s *Surface) Close() error {
	_, _ = s.conn.ReleaseName(busNameName)
	return s.conn.Close()
}

// --- Bus methods (exported via conn.Export(s, ...)) ---

func (s *Surface) SetNoiseControlMode(mode string) *dbus.Error {
	if s.commands.SetNoiseControlMode != nil {
		s.commands.SetNoiseControlMode(model.ParseNoiseControlMode(mode))
	}
	return nil
}

func (s *Surface) SetConversationalAwareness(enabled bool) *dbus.Error {
	if s.commands.SetConversationalAware != nil {
		s.commands.SetConversationalAware(enabled)
	}
	return nil
}

func (s *Surface) SetAdaptiveNoiseLevel(level int32) *dbus.Error {
	if s.commands.SetAdaptiveLevel != nil {
		s.commands.SetAdaptiveLevel(int(level))
	}
	return nil
}

func (s *Surface) SetEarPauseMode(mode int32) *dbus.Error {
	if s.commands.SetEarPauseMode != nil {
		s.commands.SetEarPauseMode(model.EarPausePolicy(mode))
	}
	return nil
}

func (s *Surface) SetListeningModes(off, transparency, anc, adaptive bool) *dbus.Error {
	if s.commands.SetListeningModes != nil {
		s.commands.SetListeningModes(off, transparency, anc, adaptive)
	}
	return nil
}

func (s *Surface) SetDisplayName(name string) *dbus.Error {
	if s.commands.SetDisplayName != nil {
		s.commands.SetDisplayName(name)
	}
	return nil
}

// --- Signals ---

func (s *Surface) EmitDeviceConnected(address, name string) error {
	return s.conn.Emit(objectPath, ifaceName+".DeviceConnected", address, name)
}

func (s *Surface) EmitDeviceDisconnected(address, name string) error {
	return s.conn.Emit(objectPath, ifaceName+".DeviceDisconnected", address, name)
}

func (s *Surface) EmitBatteryChanged(left, right, caseB int) error {
	return s.conn.Emit(objectPath, ifaceName+".BatteryChanged", int32(left), int32(right), int32(caseB))
}

func (s *Surface) EmitNoiseControlModeChanged(mode string) error {
	return s.conn.Emit(objectPath, ifaceName+".NoiseControlModeChanged", mode)
}

func (s *Surface) EmitEarDetectionChanged(left, right bool) error {
	return s.conn.Emit(objectPath, ifaceName+".EarDetectionChanged", left, right)
}

// EmitPropertiesChanged publishes the standard PropertiesChanged signal for
// one property; coalescing multiple properties into one signal is
// permitted but not required by spec.md section 4.6, and this
// implementation always emits one signal per property for simplicity.
func (s *Surface) EmitPropertiesChanged(name string, value interface{}) error {
	changed := map[string]dbus.Variant{name: dbus.MakeVariant(value)}
	return s.conn.Emit(objectPath, "org.freedesktop.DBus.Properties.PropertiesChanged",
		ifaceName, changed, []string{})
}
