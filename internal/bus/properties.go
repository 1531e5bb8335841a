package bus

import (
	"github.com/godbus/dbus/v5"

	"github.com/mstroecker/airpodsd/internal/devicestate"
)

// propertiesHandler implements org.freedesktop.DBus.Properties by reading a
// fresh devicestate.Snapshot on every call, mirroring the teacher's
// BatteryDevice.Get/GetAll (internal/bluez/battery_provider.go), which reads
// its own guarded fields rather than a cached copy.
type propertiesHandler struct {
	s *Surface
}

func (p propertiesHandler) Get(iface, property string) (dbus.Variant, *dbus.Error) {
	if iface != ifaceName {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{iface})
	}
	all := snapshotToProperties(p.s.state.Snapshot())
	v, ok := all[property]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{property})
	}
	return v, nil
}

func (p propertiesHandler) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != ifaceName {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{iface})
	}
	return snapshotToProperties(p.s.state.Snapshot()), nil
}

func (p propertiesHandler) Set(iface, property string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", []interface{}{property})
}

func snapshotToProperties(snap devicestate.Snapshot) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Connected":                 dbus.MakeVariant(snap.Connected),
		"DeviceName":                dbus.MakeVariant(snap.DeviceName),
		"DeviceAddress":             dbus.MakeVariant(snap.DeviceAddress),
		"DeviceModel":               dbus.MakeVariant(snap.DeviceModel.String()),
		"DisplayName":               dbus.MakeVariant(snap.DisplayName),
		"IsHeadphones":              dbus.MakeVariant(snap.IsHeadphones()),
		"SupportsANC":               dbus.MakeVariant(snap.SupportsANC()),
		"SupportsAdaptive":          dbus.MakeVariant(snap.SupportsAdaptive()),
		"BatteryLeft":               dbus.MakeVariant(int32(snap.BatteryLeft)),
		"BatteryRight":              dbus.MakeVariant(int32(snap.BatteryRight)),
		"BatteryCase":               dbus.MakeVariant(int32(snap.BatteryCase)),
		"ChargingLeft":              dbus.MakeVariant(snap.ChargingLeft),
		"ChargingRight":             dbus.MakeVariant(snap.ChargingRight),
		"ChargingCase":              dbus.MakeVariant(snap.ChargingCase),
		"NoiseControlMode":          dbus.MakeVariant(snap.NoiseControlMode.String()),
		"ConversationalAwareness":   dbus.MakeVariant(snap.ConversationalAware),
		"LeftInEar":                 dbus.MakeVariant(snap.LeftInEar),
		"RightInEar":                dbus.MakeVariant(snap.RightInEar),
		"AdaptiveNoiseLevel":        dbus.MakeVariant(int32(snap.AdaptiveLevel)),
		"EarPauseMode":              dbus.MakeVariant(int32(snap.EarPauseMode)),
		"ListeningModeOff":          dbus.MakeVariant(snap.ListenOff),
		"ListeningModeTransparency": dbus.MakeVariant(snap.ListenTransparency),
		"ListeningModeANC":          dbus.MakeVariant(snap.ListenANC),
		"ListeningModeAdaptive":     dbus.MakeVariant(snap.ListenAdaptive),
	}
}

const introspectionXML = `
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
	<interface name="org.librepods.AirPods1">
		<property name="Connected" type="b" access="read"/>
		<property name="DeviceName" type="s" access="read"/>
		<property name="DeviceAddress" type="s" access="read"/>
		<property name="DeviceModel" type="s" access="read"/>
		<property name="DisplayName" type="s" access="read"/>
		<property name="IsHeadphones" type="b" access="read"/>
		<property name="SupportsANC" type="b" access="read"/>
		<property name="SupportsAdaptive" type="b" access="read"/>
		<property name="BatteryLeft" type="i" access="read"/>
		<property name="BatteryRight" type="i" access="read"/>
		<property name="BatteryCase" type="i" access="read"/>
		<property name="ChargingLeft" type="b" access="read"/>
		<property name="ChargingRight" type="b" access="read"/>
		<property name="ChargingCase" type="b" access="read"/>
		<property name="NoiseControlMode" type="s" access="read"/>
		<property name="ConversationalAwareness" type="b" access="read"/>
		<property name="LeftInEar" type="b" access="read"/>
		<property name="RightInEar" type="b" access="read"/>
		<property name="AdaptiveNoiseLevel" type="i" access="read"/>
		<property name="EarPauseMode" type="i" access="read"/>
		<property name="ListeningModeOff" type="b" access="read"/>
		<property name="ListeningModeTransparency" type="b" access="read"/>
		<property name="ListeningModeANC" type="b" access="read"/>
		<property name="ListeningModeAdaptive" type="b" access="read"/>
		<method name="SetNoiseControlMode">
			<arg name="mode" type="s" direction="in"/>
		</method>
		<method name="SetConversationalAwareness">
			<arg name="enabled" type="b" direction="in"/>
		</method>
		<method name="SetAdaptiveNoiseLevel">
			<arg name="level" type="i" direction="in"/>
		</method>
		<method name="SetEarPauseMode">
			<arg name="mode" type="i" direction="in"/>
		</method>
		<method name="SetListeningModes">
			<arg name="off" type="b" direction="in"/>
			<arg name="transparency" type="b" direction="in"/>
			<arg name="anc" type="b" direction="in"/>
			<arg name="adaptive" type="b" direction="in"/>
		</method>
		<method name="SetDisplayName">
			<arg name="name" type="s" direction="in"/>
		</method>
		<signal name="DeviceConnected">
			<arg name="address" type="s"/>
			<arg name="name" type="s"/>
		</signal>
		<signal name="DeviceDisconnected">
			<arg name="address" type="s"/>
			<arg name="name" type="s"/>
		</signal>
		<signal name="BatteryChanged">
			<arg name="left" type="i"/>
			<arg name="right" type="i"/>
			<arg name="caseLevel" type="i"/>
		</signal>
		<signal name="NoiseControlModeChanged">
			<arg name="mode" type="s"/>
		</signal>
		<signal name="EarDetectionChanged">
			<arg name="left" type="b"/>
			<arg name="right" type="b"/>
		</signal>
	</interface>
</node>`
