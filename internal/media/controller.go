// Package media pauses and resumes MPRIS-capable media players in response
// to ear-detection transitions (spec.md section 4.7).
//
// Grounded on the teacher's internal/indicator/indicator.go
// callback-registration idiom (a small struct holding the current policy and
// state, driven by an explicit On* method rather than its own goroutine) and
// on the generic godbus method-call/ListNames idiom internal/bluez/observer.go
// already uses for org.bluez; MPRIS itself has no teacher precedent, so the
// org.mpris.MediaPlayer2.* interface names and the Properties.Get("PlaybackStatus")
// + Pause/Play method shape are taken directly from the MPRIS2 spec, the only
// source available for this interface.
package media

import (
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/mstroecker/airpodsd/internal/model"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisObjectPath = "/org/mpris/MediaPlayer2"
	playerIface     = "org.mpris.MediaPlayer2.Player"
)

// Controller pauses every playing MPRIS player on entry and resumes exactly
// that set on exit, tracked across Pause/Resume calls by name.
type Controller struct {
	conn *dbus.Conn

	policy model.EarPausePolicy
	paused map[string]bool

	// validPrev is false until the first ear-detection reading arrives for
	// the current connection; PauseAll/Resume must not fire from a reading
	// that has no prior state to compare against (spec.md section 4.7,
	// "first reading after connect establishes a baseline only").
	validPrev bool
	prevLeft  bool
	prevRight bool
}

// New connects to the session bus and returns an idle Controller.
func New() (*Controller, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &Controller{conn: conn, paused: make(map[string]bool)}, nil
}

// Close closes the underlying session-bus connection.
func (c *Controller) Close() error {
	return c.conn.Close()
}

// SetPolicy installs a new ear-pause policy and invalidates the baseline, so
// the next ear-detection reading is treated as the first one under the new
// policy rather than compared against state gathered under the old one.
func (c *Controller) SetPolicy(policy model.EarPausePolicy) {
	c.policy = policy
	c.validPrev = false
}

// OnEarDetectionChanged is the edge detector: it compares the new (left,
// right) in-ear reading against the last one seen under the current policy
// and pauses or resumes media accordingly (spec.md section 4.7).
//
//	Disabled:  never acts.
//	OneOut:    pauses when either ear transitions from in to out, resumes
//	           when both ears are back in.
//	BothOut:   pauses only when both ears are out, resumes as soon as
//	           either ear goes back in.
func (c *Controller) OnEarDetectionChanged(left, right bool) {
	if c.policy == model.EarPauseDisabled {
		c.validPrev = false
		return
	}

	prevShouldPause := false
	if c.validPrev {
		prevShouldPause = c.shouldPause(c.prevLeft, c.prevRight)
	}
	nowShouldPause := c.shouldPause(left, right)

	if c.validPrev {
		switch {
		case nowShouldPause && !prevShouldPause:
			c.PauseAll()
		case !nowShouldPause && prevShouldPause:
			c.Resume()
		}
	}

	c.prevLeft, c.prevRight = left, right
	c.validPrev = true
}

func (c *Controller) shouldPause(left, right bool) bool {
	switch c.policy {
	case model.EarPauseOneOut:
		return !left || !right
	case model.EarPauseBothOut:
		return !left && !right
	default:
		return false
	}
}

// PauseAll enumerates every owned org.mpris.MediaPlayer2.* name, pauses the
// ones reporting PlaybackStatus "Playing", and remembers exactly that set so
// Resume reinstates only players this controller itself paused.
func (c *Controller) PauseAll() {
	c.paused = make(map[string]bool)
	names, err := c.mprisNames()
	if err != nil {
		return
	}
	for _, name := range names {
		status, err := c.playbackStatus(name)
		if err != nil || status != "Playing" {
			continue
		}
		obj := c.conn.Object(name, dbus.ObjectPath(mprisObjectPath))
		if call := obj.Call(playerIface+".Pause", 0); call.Err == nil {
			c.paused[name] = true
		}
	}
}

// Resume calls Play on every player this controller paused and clears the
// remembered set.
func (c *Controller) Resume() {
	for name := range c.paused {
		obj := c.conn.Object(name, dbus.ObjectPath(mprisObjectPath))
		_ = obj.Call(playerIface+".Play", 0).Err
	}
	c.paused = make(map[string]bool)
}

func (c *Controller) mprisNames() ([]string, error) {
	var all []string
	if err := c.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&all); err != nil {
		return nil, err
	}
	var mpris []string
	for _, n := range all {
		if strings.HasPrefix(n, mprisPrefix) {
			mpris = append(mpris, n)
		}
	}
	return mpris, nil
}

func (c *Controller) playbackStatus(name string) (string, error) {
	obj := c.conn.Object(name, dbus.ObjectPath(mprisObjectPath))
	var variant dbus.Variant
	call := obj.Call("org.freedesktop.DBus.Properties.Get", 0, playerIface, "PlaybackStatus")
	if call.Err != nil {
		return "", call.Err
	}
	if err := call.Store(&variant); err != nil {
		return "", err
	}
	s, _ := variant.Value().(string)
	return s, nil
}
