// Package transport owns the L2CAP socket to the peer: connect/disconnect,
// send/receive, and the post-connect initialization sequence.
//
// Generalized from the teacher's internal/aap/client.go, which opened the
// same AF_BLUETOOTH/SOCK_SEQPACKET/BTPROTO_L2CAP socket with raw syscalls
// and unsafe.Pointer sockaddr_l2 structs. This rewrite keeps the same
// socket shape but drives it non-blocking from the event loop using
// golang.org/x/sys/unix (already the teacher's own indirect dependency, and
// a direct one here) instead of blocking syscall.Read/Write, and reports
// state transitions to a channel instead of direct callbacks.
package transport

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// AAPPSM is the fixed L2CAP Protocol/Service Multiplexer AAP listens on.
const AAPPSM = 0x1001

// maxFrameSize is the transport's MTU; larger frames are neither expected
// nor supported (spec.md section 4.2).
const maxFrameSize = 1024

// State is a transport lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Error:
		return "Error"
	default:
		return "Disconnected"
	}
}

// Transport owns one L2CAP socket at a time. All its exported methods are
// safe to call from the event-loop goroutine that owns it; States and
// Frames are read from the event loop's select, never called back into
// directly (spec.md section 9: "collapse to an observer interface or a
// closure holding an owned reference").
type Transport struct {
	fd    int
	state State

	States chan State
	Frames chan []byte

	stopPoll chan struct{}
}

// New returns an idle Transport. Call Connect to open the socket. A single
// Transport is reused across its owner's reconnects (spec.md section 4.4:
// "if the transport is idle ... create or reuse a transport"); stopPoll is
// therefore (re)created fresh in Connect rather than once here, since a
// closed channel cannot be reopened.
func New() *Transport {
	return &Transport{
		state:  Disconnected,
		States: make(chan State, 8),
		Frames: make(chan []byte, 32),
	}
}

func (t *Transport) setState(s State) {
	t.state = s
	select {
	case t.States <- s:
	default:
	}
}

// State returns the transport's current lifecycle state.
func (t *Transport) State() State { return t.state }

// Connect opens an L2CAP socket to addr (canonical colon-separated MAC) on
// AAPPSM, switches it to non-blocking, and starts the background poll loop
// that feeds Frames and self-disconnects on hangup/error (spec.md section
// 4.2). It does not block waiting for the handshake; callers drive the
// initialization triplet separately once a Connected state is observed.
func (t *Transport) Connect(addr string) error {
	if t.state == Connecting || t.state == Connected {
		return fmt.Errorf("transport: already %s", t.state)
	}
	t.stopPoll = make(chan struct{})
	t.setState(Connecting)

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, 0 /* BTPROTO_L2CAP */)
	if err != nil {
		t.setState(Error)
		return fmt.Errorf("transport: socket: %w", err)
	}

	bdaddr, err := parseMAC(addr)
	if err != nil {
		_ = unix.Close(fd)
		t.setState(Error)
		return fmt.Errorf("transport: invalid address %q: %w", addr, err)
	}

	sa := &unix.SockaddrL2{PSM: AAPPSM, Addr: bdaddr}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		t.setState(Error)
		return fmt.Errorf("transport: connect: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		t.setState(Error)
		return fmt.Errorf("transport: set nonblocking: %w", err)
	}

	t.fd = fd
	t.setState(Connected)
	go t.pollLoop()
	return nil
}

// Send writes a single outbound frame.
func (t *Transport) Send(frame []byte) error {
	if t.state != Connected {
		return fmt.Errorf("transport: not connected")
	}
	n, err := unix.Write(t.fd, frame)
	if err != nil {
		t.fail(err)
		return fmt.Errorf("transport: write: %w", err)
	}
	if n != len(frame) {
		err := fmt.Errorf("incomplete write: %d/%d bytes (% x)", n, len(frame), hex.EncodeToString(frame))
		t.fail(err)
		return err
	}
	return nil
}

// SendInitSequence sends the handshake, feature-set and request-notification
// frames in order, each awaited, with a short pause between sends.
//
// The pause is a workaround for peer quirks the teacher's own client also
// worked around with a 500ms sleep after the handshake (see
// internal/podstate/coordinator.go ConnectAAP); this rewrite uses the
// shorter 50-100ms window spec.md documents and keeps the ordered-send
// contract rather than pipelining, since pipelining risks the peer dropping
// the channel on some firmware revisions.
func (t *Transport) SendInitSequence(handshake, featureSet, requestNotifications []byte) error {
	for _, frame := range [][]byte{handshake, featureSet, requestNotifications} {
		if err := t.Send(frame); err != nil {
			return err
		}
		time.Sleep(75 * time.Millisecond)
	}
	return nil
}

// Close releases the socket and moves the transport to Disconnected without
// emitting a state transition (used for a clean shutdown, as opposed to
// fail, which is used for peer-initiated/error disconnects).
func (t *Transport) Close() error {
	if t.state == Disconnected {
		return nil
	}
	close(t.stopPoll)
	err := unix.Close(t.fd)
	t.state = Disconnected
	return err
}

// fail transitions to Disconnected and announces it, per spec.md's
// "self-disconnects and announces Disconnected" requirement.
func (t *Transport) fail(_ error) {
	if t.state == Disconnected {
		return
	}
	_ = unix.Close(t.fd)
	t.setState(Disconnected)
}

// pollLoop reads frames off the SEQPACKET socket, one recv per AAP frame
// (spec.md: "Reception is packet-oriented ... partial-frame reassembly is
// not required"), using poll(2) so the event loop is never blocked on a
// socket with no data pending.
func (t *Transport) pollLoop() {
	buf := make([]byte, maxFrameSize)
	fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN}}

	for {
		select {
		case <-t.stopPoll:
			return
		default:
		}

		n, err := unix.Poll(fds, 200)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			t.fail(err)
			return
		}
		if n == 0 {
			continue
		}

		revents := fds[0].Revents
		if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			t.fail(fmt.Errorf("poll: hup/err/nval"))
			return
		}
		if revents&unix.POLLIN == 0 {
			continue
		}

		nread, _, err := unix.Recvfrom(t.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				continue
			}
			if isHangupErrno(err) {
				t.fail(err)
				return
			}
			t.fail(err)
			return
		}
		if nread == 0 {
			t.fail(fmt.Errorf("zero-length read"))
			return
		}

		frame := make([]byte, nread)
		copy(frame, buf[:nread])
		select {
		case t.Frames <- frame:
		case <-t.stopPoll:
			return
		}
	}
}

func isHangupErrno(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ENOTCONN)
}

// parseMAC converts "XX:XX:XX:XX:XX:XX" into the reversed-byte-order
// [6]byte unix.SockaddrL2 expects, mirroring the teacher's own
// parseMACAddress (internal/aap/client.go) byte-reversal step.
func parseMAC(addr string) ([6]uint8, error) {
	var out [6]uint8
	var cleaned []byte
	for i := 0; i < len(addr); i++ {
		if addr[i] == ':' {
			continue
		}
		cleaned = append(cleaned, addr[i])
	}
	if len(cleaned) != 12 {
		return out, fmt.Errorf("invalid MAC address length")
	}
	decoded := make([]byte, 6)
	if _, err := hex.Decode(decoded, cleaned); err != nil {
		return out, fmt.Errorf("invalid hex in MAC address: %w", err)
	}
	for i := 0; i < 6; i++ {
		out[i] = decoded[5-i]
	}
	return out, nil
}
