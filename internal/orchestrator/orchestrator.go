// Package orchestrator wires the BlueZ observer, the L2CAP transport and the
// AAP codec into Device State, the bus service surface and the media
// controller, via one cooperative event loop (spec.md section 4.4/5).
//
// Grounded on the teacher's internal/podstate/coordinator.go: a single
// struct owning the transport, a device-state pointer and a callback-driven
// bus surface, with the same connect -> handshake -> request-notifications
// -> read-loop -> dispatch-by-opcode control flow, generalized from the
// teacher's BLE/AAP dual-source coordinator down to a single AAP source
// (BLE scanning/pairing is out of scope per spec.md's non-goals) and wired
// to the bus surface and media controller instead of a GTK window and
// systray icon.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/mstroecker/airpodsd/internal/aap"
	"github.com/mstroecker/airpodsd/internal/bluez"
	"github.com/mstroecker/airpodsd/internal/bus"
	"github.com/mstroecker/airpodsd/internal/config"
	"github.com/mstroecker/airpodsd/internal/devicestate"
	"github.com/mstroecker/airpodsd/internal/media"
	"github.com/mstroecker/airpodsd/internal/model"
	"github.com/mstroecker/airpodsd/internal/transport"
)

type cmdKind int

const (
	cmdSetNoiseControlMode cmdKind = iota
	cmdSetConversationalAware
	cmdSetAdaptiveLevel
	cmdSetEarPauseMode
	cmdSetListeningModes
	cmdSetDisplayName
)

type cmdRequest struct {
	kind cmdKind

	noiseMode   model.NoiseControlMode
	enabled     bool
	level       int
	earPause    model.EarPausePolicy
	off, trans  bool
	anc, adapt  bool
	displayName string
}

// Orchestrator is the single-threaded event-loop consumer described in
// spec.md section 4.4. Construct with New and run with Run; Run blocks
// until ctx is cancelled or a component fails to start.
type Orchestrator struct {
	log *log.Logger

	observer  *bluez.Observer
	transport *transport.Transport
	state     *devicestate.State
	surface   *bus.Surface
	media     *media.Controller
	cfg       *config.Store
	battery   *bluez.SystemBatteryProvider
	adapter   string

	commands chan cmdRequest

	// target is the identity of the peer the transport is connected or
	// connecting to; empty when no peer is known.
	target model.Identity
}

// New builds an Orchestrator from already-constructed components. Call
// Commands to obtain the bus.Commands value to register the bus surface
// with, then AttachSurface once that surface exists.
func New(logger *log.Logger, observer *bluez.Observer, state *devicestate.State, cfg *config.Store, mediaCtl *media.Controller, adapter string) *Orchestrator {
	return &Orchestrator{
		log:       logger,
		observer:  observer,
		transport: transport.New(),
		state:     state,
		media:     mediaCtl,
		cfg:       cfg,
		adapter:   adapter,
		commands:  make(chan cmdRequest, 16),
	}
}

// AttachSurface gives the Orchestrator its registered bus surface, used to
// emit signals. Must be called before Run.
func (o *Orchestrator) AttachSurface(s *bus.Surface) {
	o.surface = s
}

// AttachSystemBattery gives the Orchestrator an optional BlueZ
// BatteryProvider1 mirror (spec.md section 4.8's "ambient" battery exposure
// for desktop environments that don't speak this daemon's own bus surface).
// Battery updates are mirrored onto it from dispatchBattery whenever set;
// its absence (nil) is a no-op throughout, since registering it requires
// system-bus access the daemon may not have.
func (o *Orchestrator) AttachSystemBattery(b *bluez.SystemBatteryProvider) {
	o.battery = b
}

// Commands returns a bus.Commands value whose callbacks enqueue requests
// onto this Orchestrator's command queue, so every bus-triggered mutation is
// serialized through the same event loop that handles codec output
// (spec.md section 5: Device State touched from more than one logical
// source is guarded, callbacks never run while any lock is held).
func (o *Orchestrator) Commands() bus.Commands {
	return bus.Commands{
		SetNoiseControlMode: func(mode model.NoiseControlMode) {
			o.commands <- cmdRequest{kind: cmdSetNoiseControlMode, noiseMode: mode}
		},
		SetConversationalAware: func(enabled bool) {
			o.commands <- cmdRequest{kind: cmdSetConversationalAware, enabled: enabled}
		},
		SetAdaptiveLevel: func(level int) {
			o.commands <- cmdRequest{kind: cmdSetAdaptiveLevel, level: level}
		},
		SetEarPauseMode: func(mode model.EarPausePolicy) {
			o.commands <- cmdRequest{kind: cmdSetEarPauseMode, earPause: mode}
		},
		SetListeningModes: func(off, transparency, anc, adaptive bool) {
			o.commands <- cmdRequest{kind: cmdSetListeningModes, off: off, trans: transparency, anc: anc, adapt: adaptive}
		},
		SetDisplayName: func(name string) {
			o.commands <- cmdRequest{kind: cmdSetDisplayName, displayName: name}
		},
	}
}

// Run starts the BlueZ observer and enters the event loop, returning when
// ctx is cancelled (normal shutdown) or a component fails (spec.md section
// 6 exit codes).
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.observer.Start(); err != nil {
		return fmt.Errorf("orchestrator: start bluez observer: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.loop(ctx)
		return nil
	})
	return g.Wait()
}

func (o *Orchestrator) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return

		case ev, ok := <-o.observer.Events:
			if !ok {
				continue
			}
			o.handleBluezEvent(ev)

		case st, ok := <-o.transport.States:
			if !ok {
				continue
			}
			o.handleTransportState(st)

		case frame, ok := <-o.transport.Frames:
			if !ok {
				continue
			}
			o.handleFrame(frame)

		case cmd, ok := <-o.commands:
			if !ok {
				continue
			}
			o.handleCommand(cmd)
		}
	}
}

// handleBluezEvent implements spec.md section 4.4's connect/disconnect
// dispatch: a connected event is ignored if the transport is already
// connected (same peer assumed), otherwise it remembers the identity and
// starts a connect attempt on the shared transport.
func (o *Orchestrator) handleBluezEvent(ev bluez.Event) {
	switch ev.Kind {
	case bluez.EventConnected:
		if o.transport.State() == transport.Connected || o.transport.State() == transport.Connecting {
			return
		}
		o.target = model.Identity{Address: ev.Address, Name: ev.Name}
		if err := o.transport.Connect(ev.Address); err != nil {
			o.log.Error("transport connect failed", "address", ev.Address, "err", err)
		}

	case bluez.EventDisconnected:
		_ = o.transport.Close()
		o.resetOnDisconnect()
	}
}

func (o *Orchestrator) handleTransportState(st transport.State) {
	switch st {
	case transport.Connected:
		if err := o.transport.SendInitSequence(aap.Handshake[:], aap.BuildFeatureSet, aap.BuildRequestNotifications); err != nil {
			o.log.Error("init sequence failed", "err", err)
			return
		}
		o.state.SetConnected(true, o.target)
		o.restoreProfile()
		if o.surface != nil {
			_ = o.surface.EmitDeviceConnected(o.target.Address, o.target.Name)
			_ = o.surface.EmitPropertiesChanged("Connected", true)
		}

	case transport.Disconnected:
		o.resetOnDisconnect()
	}
}

func (o *Orchestrator) resetOnDisconnect() {
	addr, name := o.state.Snapshot().DeviceAddress, o.state.Snapshot().DeviceName
	o.state.Reset()
	if o.cfg != nil {
		o.media.SetPolicy(o.cfg.GlobalConfig().EarPauseMode)
	}
	if o.battery != nil {
		_ = o.battery.Remove()
	}
	if o.surface != nil {
		_ = o.surface.EmitDeviceDisconnected(addr, name)
		_ = o.surface.EmitPropertiesChanged("Connected", false)
	}
}

// handleFrame implements spec.md section 4.4's per-packet-type dispatch.
// Parse errors other than UnknownOpcode are logged at debug level and the
// frame dropped; UnknownOpcode frames (including the handshake echo) are
// silently ignored.
func (o *Orchestrator) handleFrame(raw []byte) {
	frame, err := aap.Parse(raw)
	if err != nil {
		if err == aap.ErrUnknownOpcode {
			return
		}
		o.log.Debug("dropping malformed frame", "err", err)
		return
	}

	switch frame.Opcode {
	case aap.OpcodeBattery:
		o.dispatchBattery(frame.Battery)
	case aap.OpcodeEarDetection:
		o.dispatchEarDetection(frame.EarState)
	case aap.OpcodeControl:
		o.dispatchControl(frame.Control)
	case aap.OpcodeMetadata:
		o.dispatchMetadata(frame.Metadata)
	case aap.OpcodeCADetection:
		// Opaque volume telemetry; spec.md section 4.1 defines decoding but
		// section 4.4 names no Device State field or signal for it.
	}
}

func (o *Orchestrator) dispatchBattery(b *aap.BatteryFrame) {
	o.state.SetBattery(b.Left, b.Right, b.Case)
	snap := o.state.Snapshot()

	if o.battery != nil && snap.DeviceAddress != "" {
		level := lowestBatteryLevel(snap.BatteryLeft, snap.BatteryRight, snap.BatteryCase)
		if err := o.battery.Publish(bluez.DevicePath(o.adapter, snap.DeviceAddress), level); err != nil {
			o.log.Debug("system battery publish failed", "err", err)
		}
	}

	if o.surface == nil {
		return
	}
	_ = o.surface.EmitPropertiesChanged("BatteryLeft", int32(snap.BatteryLeft))
	_ = o.surface.EmitPropertiesChanged("BatteryRight", int32(snap.BatteryRight))
	_ = o.surface.EmitPropertiesChanged("BatteryCase", int32(snap.BatteryCase))
	_ = o.surface.EmitBatteryChanged(snap.BatteryLeft, snap.BatteryRight, snap.BatteryCase)
}

// lowestBatteryLevel picks the single percentage BatteryProvider1 reports,
// since it models one indicator per device rather than per-earbud levels:
// the lowest remaining charge among the reported components is the one
// that should drive a low-battery warning.
func lowestBatteryLevel(left, right, caseLevel int) int {
	lowest := -1
	for _, v := range []int{left, right, caseLevel} {
		if v < 0 || v > 100 {
			continue
		}
		if lowest == -1 || v < lowest {
			lowest = v
		}
	}
	if lowest == -1 {
		return 0
	}
	return lowest
}

func (o *Orchestrator) dispatchEarDetection(e *aap.EarDetectionFrame) {
	o.state.SetEarDetection(e.PrimaryInEar, e.SecondaryInEar)
	snap := o.state.Snapshot()
	if o.surface != nil {
		_ = o.surface.EmitPropertiesChanged("LeftInEar", snap.LeftInEar)
		_ = o.surface.EmitPropertiesChanged("RightInEar", snap.RightInEar)
		_ = o.surface.EmitEarDetectionChanged(snap.LeftInEar, snap.RightInEar)
	}
	o.media.OnEarDetectionChanged(snap.LeftInEar, snap.RightInEar)
}

func (o *Orchestrator) dispatchControl(c *aap.ControlFrame) {
	switch c.SubOpcode {
	case aap.SubOpcodeNoiseControl:
		o.state.SetNoiseControlMode(c.NoiseControlMode)
		if o.surface != nil {
			_ = o.surface.EmitPropertiesChanged("NoiseControlMode", c.NoiseControlMode.String())
			_ = o.surface.EmitNoiseControlModeChanged(c.NoiseControlMode.String())
		}

	case aap.SubOpcodeConversationalAware:
		o.state.SetConversationalAware(c.ConversationalAware)
		if o.surface != nil {
			_ = o.surface.EmitPropertiesChanged("ConversationalAwareness", c.ConversationalAware)
		}

	case aap.SubOpcodeListeningModes:
		o.state.SetListeningModes(c.ListeningModes)
		o.persistListeningModes(c.ListeningModes)
		if o.surface != nil {
			off, trans, anc, adapt := c.ListeningModes.Bits()
			_ = o.surface.EmitPropertiesChanged("ListeningModeOff", off)
			_ = o.surface.EmitPropertiesChanged("ListeningModeTransparency", trans)
			_ = o.surface.EmitPropertiesChanged("ListeningModeANC", anc)
			_ = o.surface.EmitPropertiesChanged("ListeningModeAdaptive", adapt)
		}

	case aap.SubOpcodeAdaptiveLevel:
		o.state.SetAdaptiveLevel(c.AdaptiveLevel)
		if o.surface != nil {
			_ = o.surface.EmitPropertiesChanged("AdaptiveNoiseLevel", int32(c.AdaptiveLevel))
		}
	}
}

// restoreProfile applies a previously saved per-peer profile onto Device
// State right after connect, so the bus surface reflects the peer's last
// known configuration (display name, listening-mode flags, conversational
// awareness, adaptive level, preferred noise-control mode) immediately
// rather than leaving those properties at their disconnected defaults until
// the peer happens to report its own state over AAP. A peer with no saved
// profile (HasSavedSettings false) is left untouched. Restored values are
// provisional: any AAP frame that subsequently arrives for the same field
// overwrites them with the peer's actual reported state.
func (o *Orchestrator) restoreProfile() {
	if o.cfg == nil {
		return
	}
	addr := o.state.Snapshot().DeviceAddress
	profile := o.cfg.PeerProfile(addr)
	if !profile.HasSavedSettings {
		return
	}

	if profile.DisplayName != "" {
		o.state.SetDisplayName(profile.DisplayName)
	}
	o.state.SetConversationalAware(profile.ConversationalAware)
	o.state.SetAdaptiveLevel(profile.AdaptiveLevel)
	o.state.SetNoiseControlMode(model.ParseNoiseControlMode(profile.PreferredNoiseMode))
	if modes := model.ListeningModesFromBits(profile.ListenOff, profile.ListenTransparency, profile.ListenANC, profile.ListenAdaptive); modes.PopCount() >= 2 {
		o.state.SetListeningModes(modes)
	}

	if o.surface == nil {
		return
	}
	snap := o.state.Snapshot()
	_ = o.surface.EmitPropertiesChanged("DisplayName", snap.DisplayName)
	_ = o.surface.EmitPropertiesChanged("ConversationalAwareness", snap.ConversationalAware)
	_ = o.surface.EmitPropertiesChanged("AdaptiveNoiseLevel", int32(snap.AdaptiveLevel))
	_ = o.surface.EmitPropertiesChanged("NoiseControlMode", snap.NoiseControlMode.String())
	_ = o.surface.EmitPropertiesChanged("ListeningModeOff", snap.ListenOff)
	_ = o.surface.EmitPropertiesChanged("ListeningModeTransparency", snap.ListenTransparency)
	_ = o.surface.EmitPropertiesChanged("ListeningModeANC", snap.ListenANC)
	_ = o.surface.EmitPropertiesChanged("ListeningModeAdaptive", snap.ListenAdaptive)
}

// persistListeningModes saves the full peer profile (spec.md section 6's
// listening-mode flags, conversational awareness, adaptive level and
// preferred noise-control mode) whenever a listening-modes frame arrives,
// per spec.md section 4.4's explicit "persist to the per-peer config
// profile" instruction. modes is the bitmask from the frame that triggered
// this save; the rest of the profile is read back off the just-updated
// Device State snapshot so the persisted record always reflects the peer's
// full current configuration, not only the field that changed.
func (o *Orchestrator) persistListeningModes(modes model.ListeningModes) {
	snap := o.state.Snapshot()
	if snap.DeviceAddress == "" || o.cfg == nil {
		return
	}
	off, trans, anc, adapt := modes.Bits()
	existing := o.cfg.PeerProfile(snap.DeviceAddress)
	profile := config.PeerProfile{
		DisplayName:         snap.DisplayName,
		ListenOff:           off,
		ListenTransparency:  trans,
		ListenANC:           anc,
		ListenAdaptive:      adapt,
		ConversationalAware: snap.ConversationalAware,
		AdaptiveLevel:       snap.AdaptiveLevel,
		PreferredNoiseMode:  snap.NoiseControlMode.String(),
	}
	if profile.DisplayName == "" {
		profile.DisplayName = existing.DisplayName
	}
	_ = o.cfg.SetPeerProfile(snap.DeviceAddress, profile)
}

func (o *Orchestrator) dispatchMetadata(m *aap.MetadataFrame) {
	resolved := model.ModelFromNumber(m.ModelNumber)
	if resolved == model.ModelUnknown {
		return
	}
	o.state.SetModel(resolved)
	if o.surface == nil {
		return
	}
	snap := o.state.Snapshot()
	_ = o.surface.EmitPropertiesChanged("DeviceModel", snap.DeviceModel.String())
	_ = o.surface.EmitPropertiesChanged("IsHeadphones", snap.IsHeadphones())
	_ = o.surface.EmitPropertiesChanged("SupportsANC", snap.SupportsANC())
	_ = o.surface.EmitPropertiesChanged("SupportsAdaptive", snap.SupportsAdaptive())
}

// handleCommand implements spec.md section 4.4's command dispatch:
// validation, codec build, send, and (for listening modes) an optimistic
// state update. SetEarPauseMode is the only command honored while the
// transport is not connected, since it is a local policy setting rather
// than a peer command.
func (o *Orchestrator) handleCommand(cmd cmdRequest) {
	if cmd.kind == cmdSetEarPauseMode {
		o.state.SetEarPauseMode(cmd.earPause)
		o.media.SetPolicy(cmd.earPause)
		if o.cfg != nil {
			_ = o.cfg.SetEarPauseMode(cmd.earPause)
		}
		if o.surface != nil {
			_ = o.surface.EmitPropertiesChanged("EarPauseMode", int32(cmd.earPause))
		}
		return
	}

	if o.transport.State() != transport.Connected {
		o.log.Warn("refusing command: transport not connected", "kind", cmd.kind)
		return
	}

	switch cmd.kind {
	case cmdSetNoiseControlMode:
		o.send(aap.BuildNoiseControl(cmd.noiseMode))

	case cmdSetConversationalAware:
		o.send(aap.BuildConversationalAwareness(cmd.enabled))

	case cmdSetAdaptiveLevel:
		level := cmd.level
		if level < 0 {
			level = 0
		}
		if level > 100 {
			level = 100
		}
		o.send(aap.BuildAdaptiveLevel(level))

	case cmdSetListeningModes:
		modes := model.ListeningModesFromBits(cmd.off, cmd.trans, cmd.anc, cmd.adapt)
		if modes.PopCount() < 2 {
			o.log.Warn("refusing listening-modes command: fewer than 2 bits set")
			return
		}
		o.send(aap.BuildListeningModes(modes))
		o.state.SetListeningModes(modes)
		if o.surface != nil {
			_ = o.surface.EmitPropertiesChanged("ListeningModeOff", cmd.off)
			_ = o.surface.EmitPropertiesChanged("ListeningModeTransparency", cmd.trans)
			_ = o.surface.EmitPropertiesChanged("ListeningModeANC", cmd.anc)
			_ = o.surface.EmitPropertiesChanged("ListeningModeAdaptive", cmd.adapt)
		}

	case cmdSetDisplayName:
		o.state.SetDisplayName(cmd.displayName)
		addr := o.state.Snapshot().DeviceAddress
		if addr != "" && o.cfg != nil {
			profile := o.cfg.PeerProfile(addr)
			profile.DisplayName = cmd.displayName
			_ = o.cfg.SetPeerProfile(addr, profile)
		}
		if o.surface != nil {
			_ = o.surface.EmitPropertiesChanged("DisplayName", cmd.displayName)
		}
	}
}

// send writes frame and, on failure, disconnects the transport — spec.md
// section 4.4's "a send error triggers transport disconnect" failure
// semantics. The resulting Disconnected state transition is picked up by
// the event loop's own select on transport.States, so cleanup happens
// exactly once regardless of which path noticed the failure first.
func (o *Orchestrator) send(frame []byte) {
	if err := o.transport.Send(frame); err != nil {
		o.log.Error("send failed, disconnecting", "err", err)
	}
}

func (o *Orchestrator) shutdown() {
	_ = o.transport.Close()
	if o.surface != nil {
		_ = o.surface.Close()
	}
	if o.media != nil {
		_ = o.media.Close()
	}
	if o.battery != nil {
		_ = o.battery.Close()
	}
	_ = o.observer.Close()
	if o.cfg != nil {
		_ = o.cfg.Close()
	}
}
