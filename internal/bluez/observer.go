// Package bluez subscribes to the BlueZ system-bus object graph and emits
// connected/disconnected events for peers that advertise the AAP service
// UUID (spec.md section 4.3).
//
// Grounded on two sources: the teacher's internal/ble/scanner.go for the
// dbus.ConnectSystemBus + AddMatch + buffered signal channel idiom, and the
// bluetuith-org-bluetuith vendored bluetooth-classic/linux package's
// refreshStore (an initial GetManagedObjects walk) and parseSignalData
// (dispatch on InterfacesAdded/InterfacesRemoved/PropertiesChanged) for the
// walk-then-dispatch shape, since the teacher itself never watches
// InterfacesAdded/Removed — only PropertiesChanged for its own BLE scan.
package bluez

import (
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	busName        = "org.bluez"
	deviceIface    = "org.bluez.Device1"
	objectManager  = "org.freedesktop.DBus.ObjectManager"
	propertiesIface = "org.freedesktop.DBus.Properties"

	// aapServiceUUID is the constant service UUID advertised by AAP-capable
	// peers, matched case-insensitively (spec.md section 4.3).
	aapServiceUUID = "74ec2172-0bad-4d01-8f77-997b2be0722a"
)

// EventKind distinguishes the two events an Observer emits.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
)

// Event carries a peer identity alongside the kind of transition observed.
type Event struct {
	Kind    EventKind
	Address string
	Name    string
}

type peerIdentity struct {
	address   string
	name      string
	connected bool
	isAAP     bool
}

// Observer watches org.bluez for AAP-capable peers appearing/disappearing.
// Events is the single channel all observed transitions are published on;
// the orchestrator's event loop selects on it directly, per spec.md
// section 9's observer-interface-over-raw-callback guidance.
type Observer struct {
	conn *dbus.Conn

	mu    sync.Mutex
	known map[dbus.ObjectPath]peerIdentity

	Events chan Event
}

// New connects to the system bus and returns an Observer that has not yet
// started watching; call Start to perform the initial managed-objects walk
// and begin the signal subscription.
func New() (*Observer, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	return &Observer{
		conn:   conn,
		known:  make(map[dbus.ObjectPath]peerIdentity),
		Events: make(chan Event, 16),
	}, nil
}

// Start walks the managed-objects tree once to catch peers already
// connected before the daemon came up, then subscribes to PropertiesChanged,
// InterfacesAdded and InterfacesRemoved on org.bluez (spec.md section 4.3).
func (o *Observer) Start() error {
	if err := o.walkManagedObjects(); err != nil {
		return err
	}

	rule := fmt.Sprintf("type='signal',sender='%s'", busName)
	if err := o.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return fmt.Errorf("bluez: add match: %w", err)
	}

	ch := make(chan *dbus.Signal, 16)
	o.conn.Signal(ch)
	go o.dispatchLoop(ch)

	return nil
}

// Close releases the system-bus connection.
func (o *Observer) Close() error {
	return o.conn.Close()
}

func (o *Observer) walkManagedObjects() error {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := o.conn.Object(busName, dbus.ObjectPath("/")).Call(objectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return fmt.Errorf("bluez: get managed objects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return fmt.Errorf("bluez: decode managed objects: %w", err)
	}

	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		o.handleDeviceProperties(path, props)
	}
	return nil
}

func (o *Observer) dispatchLoop(ch chan *dbus.Signal) {
	for signal := range ch {
		switch signal.Name {
		case propertiesIface + ".PropertiesChanged":
			o.handlePropertiesChanged(signal)
		case objectManager + ".InterfacesAdded":
			o.handleInterfacesAdded(signal)
		case objectManager + ".InterfacesRemoved":
			o.handleInterfacesRemoved(signal)
		}
	}
}

func (o *Observer) handlePropertiesChanged(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}
	iface, ok := signal.Body[0].(string)
	if !ok || iface != deviceIface {
		return
	}
	changes, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	o.handleDeviceProperties(signal.Path, changes)
}

func (o *Observer) handleInterfacesAdded(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}
	path, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := signal.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	props, ok := ifaces[deviceIface]
	if !ok {
		return
	}
	o.handleDeviceProperties(path, props)
}

func (o *Observer) handleInterfacesRemoved(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}
	path, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	names, ok := signal.Body[1].([]string)
	if !ok {
		return
	}
	removesDevice := false
	for _, n := range names {
		if n == deviceIface {
			removesDevice = true
			break
		}
	}
	if !removesDevice {
		return
	}

	o.mu.Lock()
	identity, known := o.known[path]
	delete(o.known, path)
	o.mu.Unlock()

	if known && identity.connected && identity.isAAP {
		o.emit(Event{Kind: EventDisconnected, Address: identity.address, Name: identity.name})
	}
}

// handleDeviceProperties folds a (partial or full) device property set into
// the observer's cache and emits connected/disconnected transitions.
//
// The map is the authoritative source for disconnection events whose
// property-changed payload omits the identity: when a device transitions to
// Connected=false the observer falls back to the cached identity rather
// than whatever (possibly empty) fields arrived on this signal, per
// spec.md section 4.3.
func (o *Observer) handleDeviceProperties(path dbus.ObjectPath, props map[string]dbus.Variant) {
	o.mu.Lock()
	cached, known := o.known[path]
	if !known {
		cached = peerIdentity{}
	}

	if addr, ok := props["Address"]; ok {
		if s, ok := addr.Value().(string); ok {
			cached.address = strings.ToUpper(s)
		}
	}
	if name, ok := props["Name"]; ok {
		if s, ok := name.Value().(string); ok {
			cached.name = s
		}
	} else if alias, ok := props["Alias"]; ok {
		if s, ok := alias.Value().(string); ok && cached.name == "" {
			cached.name = s
		}
	}

	if isAAPCapable(props) {
		cached.isAAP = true
	}
	wasConnected := cached.connected

	if connVar, ok := props["Connected"]; ok {
		if c, ok := connVar.Value().(bool); ok {
			cached.connected = c
		}
	}

	o.known[path] = cached
	address, name, nowConnected, isAAP := cached.address, cached.name, cached.connected, cached.isAAP
	o.mu.Unlock()

	if address == "" || !isAAP {
		return
	}

	switch {
	case nowConnected && !wasConnected:
		o.emit(Event{Kind: EventConnected, Address: address, Name: name})
	case !nowConnected && wasConnected:
		o.emit(Event{Kind: EventDisconnected, Address: address, Name: name})
	}
}

// isAAPCapable reports whether the device's UUIDs property (when present on
// this signal) contains the AAP service UUID.
func isAAPCapable(props map[string]dbus.Variant) bool {
	v, ok := props["UUIDs"]
	if !ok {
		return false
	}
	uuids, ok := v.Value().([]string)
	if !ok {
		return false
	}
	for _, u := range uuids {
		if strings.EqualFold(u, aapServiceUUID) {
			return true
		}
	}
	return false
}

func (o *Observer) emit(ev Event) {
	select {
	case o.Events <- ev:
	default:
	}
}
