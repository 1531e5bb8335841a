// SystemBatteryProvider mirrors the connected peer's battery level onto
// BlueZ's own org.bluez.BatteryProviderManager1/BatteryProvider1 API, the
// same mechanism BlueZ uses for HID and HFP battery reporting, so desktop
// environments that only know how to read a device's native battery
// provider (rather than this daemon's own bus surface) still show a level.
//
// This is adapted from the teacher's internal/bluez/battery_provider.go
// nearly line for line for the BatteryProviderManager1 registration,
// ObjectManager export and Properties.Get/GetAll/PropertiesChanged
// machinery; the difference is what drives it: the teacher's version
// discovers and polls its own AirPods device over BLE (DiscoverAirPodsDevice,
// WatchForAirPods), which this rewrite drops entirely since the BlueZ
// Observer (internal/bluez/observer.go) already owns peer discovery — the
// Orchestrator instead calls Publish/Remove explicitly as Device State's
// battery and connection fields change.
package bluez

import (
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const (
	bluezService                = "org.bluez"
	batteryProviderManagerIface = "org.bluez.BatteryProviderManager1"
	batteryProviderIface        = "org.bluez.BatteryProvider1"
	providerPathPrefix          = "/org/airpodsd/battery"
)

// systemBatteryDevice is one exported battery object.
type systemBatteryDevice struct {
	path       dbus.ObjectPath
	percentage uint8
	device     dbus.ObjectPath
}

// SystemBatteryProvider publishes a single "primary" battery entry per
// connected peer under the fixed name "peer".
type SystemBatteryProvider struct {
	conn         *dbus.Conn
	adapterPath  dbus.ObjectPath
	providerPath dbus.ObjectPath

	mu     sync.RWMutex
	device *systemBatteryDevice
}

// NewSystemBatteryProvider connects to the system bus, exports the provider
// root, and registers it with BlueZ's BatteryProviderManager1 on adapter
// (e.g. "hci0").
func NewSystemBatteryProvider(adapter string) (*SystemBatteryProvider, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}

	p := &SystemBatteryProvider{
		conn:         conn,
		adapterPath:  dbus.ObjectPath("/org/bluez/" + adapter),
		providerPath: dbus.ObjectPath(providerPathPrefix),
	}

	if err := p.exportProvider(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bluez: export battery provider: %w", err)
	}
	if err := p.register(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bluez: register battery provider: %w", err)
	}

	return p, nil
}

func (p *SystemBatteryProvider) exportProvider() error {
	if err := p.conn.Export(p, p.providerPath, "org.freedesktop.DBus.ObjectManager"); err != nil {
		return err
	}

	const providerIntrospectXML = `
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
	<interface name="org.freedesktop.DBus.ObjectManager">
		<method name="GetManagedObjects">
			<arg name="objects" type="a{oa{sa{sv}}}" direction="out"/>
		</method>
		<signal name="InterfacesAdded">
			<arg name="object_path" type="o"/>
			<arg name="interfaces_and_properties" type="a{sa{sv}}"/>
		</signal>
		<signal name="InterfacesRemoved">
			<arg name="object_path" type="o"/>
			<arg name="interfaces" type="as"/>
		</signal>
	</interface>
</node>`

	return p.conn.Export(introspect.Introspectable(providerIntrospectXML), p.providerPath, "org.freedesktop.DBus.Introspectable")
}

func (p *SystemBatteryProvider) register() error {
	obj := p.conn.Object(bluezService, p.adapterPath)
	call := obj.Call(batteryProviderManagerIface+".RegisterBatteryProvider", 0, p.providerPath)
	if call.Err != nil {
		return call.Err
	}
	return nil
}

// Publish exports (or updates, if already exported) the primary battery
// entry for devicePath at percentage. percentage outside [0, 100] (which
// includes Device State's -1 "not reported" sentinel) is published as 0
// rather than rejected, since BlueZ's Percentage property has no "unknown"
// representation.
func (p *SystemBatteryProvider) Publish(devicePath string, percentage int) error {
	if percentage < 0 || percentage > 100 {
		percentage = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		p.device.percentage = uint8(percentage)
		p.device.device = dbus.ObjectPath(devicePath)
		changes := map[string]dbus.Variant{"Percentage": dbus.MakeVariant(p.device.percentage)}
		return p.conn.Emit(p.device.path, "org.freedesktop.DBus.Properties.PropertiesChanged",
			batteryProviderIface, changes, []string{})
	}

	batteryPath := dbus.ObjectPath(string(p.providerPath) + "/peer")
	device := &systemBatteryDevice{
		path:       batteryPath,
		percentage: uint8(percentage),
		device:     dbus.ObjectPath(devicePath),
	}

	if err := p.conn.Export(batteryPropertiesHandler{p}, batteryPath, "org.freedesktop.DBus.Properties"); err != nil {
		return err
	}

	const batteryIntrospectXML = `
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
	<interface name="org.bluez.BatteryProvider1">
		<property name="Percentage" type="y" access="read"/>
		<property name="Device" type="o" access="read"/>
		<property name="Source" type="s" access="read"/>
	</interface>
</node>`
	if err := p.conn.Export(introspect.Introspectable(batteryIntrospectXML), batteryPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}

	p.device = device

	interfaces := map[string]map[string]dbus.Variant{
		batteryProviderIface: {
			"Percentage": dbus.MakeVariant(device.percentage),
			"Device":     dbus.MakeVariant(device.device),
			"Source":     dbus.MakeVariant("airpodsd"),
		},
	}
	return p.conn.Emit(p.providerPath, "org.freedesktop.DBus.ObjectManager.InterfacesAdded", batteryPath, interfaces)
}

// Remove unpublishes the primary battery entry, if any (called on peer
// disconnect).
func (p *SystemBatteryProvider) Remove() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device == nil {
		return nil
	}
	path := p.device.path
	p.device = nil

	p.conn.Export(nil, path, "org.freedesktop.DBus.Properties")
	p.conn.Export(nil, path, "org.freedesktop.DBus.Introspectable")

	return p.conn.Emit(p.providerPath, "org.freedesktop.DBus.ObjectManager.InterfacesRemoved",
		path, []string{batteryProviderIface})
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager for the
// provider root.
func (p *SystemBatteryProvider) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	if p.device != nil {
		objects[p.device.path] = map[string]map[string]dbus.Variant{
			batteryProviderIface: {
				"Percentage": dbus.MakeVariant(p.device.percentage),
				"Device":     dbus.MakeVariant(p.device.device),
				"Source":     dbus.MakeVariant("airpodsd"),
			},
		}
	}
	return objects, nil
}

// batteryPropertiesHandler implements org.freedesktop.DBus.Properties for
// the single exported battery object.
type batteryPropertiesHandler struct {
	p *SystemBatteryProvider
}

func (h batteryPropertiesHandler) Get(iface, property string) (dbus.Variant, *dbus.Error) {
	if iface != batteryProviderIface {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{iface})
	}
	h.p.mu.RLock()
	defer h.p.mu.RUnlock()
	if h.p.device == nil {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{property})
	}
	switch property {
	case "Percentage":
		return dbus.MakeVariant(h.p.device.percentage), nil
	case "Device":
		return dbus.MakeVariant(h.p.device.device), nil
	case "Source":
		return dbus.MakeVariant("airpodsd"), nil
	default:
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{property})
	}
}

func (h batteryPropertiesHandler) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != batteryProviderIface {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{iface})
	}
	h.p.mu.RLock()
	defer h.p.mu.RUnlock()
	if h.p.device == nil {
		return map[string]dbus.Variant{}, nil
	}
	return map[string]dbus.Variant{
		"Percentage": dbus.MakeVariant(h.p.device.percentage),
		"Device":     dbus.MakeVariant(h.p.device.device),
		"Source":     dbus.MakeVariant("airpodsd"),
	}, nil
}

func (h batteryPropertiesHandler) Set(iface, property string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", []interface{}{property})
}

// DevicePath builds the BlueZ object path BatteryProvider1's Device property
// expects, for a peer at address on adapter (e.g. "hci0",
// "AA:BB:CC:DD:EE:FF").
func DevicePath(adapter, address string) string {
	id := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, id)
}

// Close unregisters the provider and closes the connection.
func (p *SystemBatteryProvider) Close() error {
	obj := p.conn.Object(bluezService, p.adapterPath)
	_ = obj.Call(batteryProviderManagerIface+".UnregisterBatteryProvider", 0, p.providerPath).Err
	return p.conn.Close()
}
