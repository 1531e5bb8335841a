package aap

import "github.com/mstroecker/airpodsd/internal/model"

// Handshake is the fixed 16-byte handshake frame sent immediately after the
// L2CAP socket connects, before any other traffic.
var Handshake = [16]byte{
	0x00, 0x00, 0x04, 0x00, 0x01, 0x00, 0x02, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// noiseControlBodies holds the pre-image 11-byte bodies for each mode,
// indexed by model.NoiseControlMode. Byte 7 carries the mode selector; the
// remaining bytes are the constant suffix the peer expects.
var noiseControlBodies = map[model.NoiseControlMode][11]byte{
	model.NoiseControlOff:          {0x04, 0x00, 0x04, 0x00, 0x09, 0x00, 0x0D, 0x01, 0x00, 0x00, 0x00},
	model.NoiseControlANC:          {0x04, 0x00, 0x04, 0x00, 0x09, 0x00, 0x0D, 0x02, 0x00, 0x00, 0x00},
	model.NoiseControlTransparency: {0x04, 0x00, 0x04, 0x00, 0x09, 0x00, 0x0D, 0x03, 0x00, 0x00, 0x00},
	model.NoiseControlAdaptive:     {0x04, 0x00, 0x04, 0x00, 0x09, 0x00, 0x0D, 0x04, 0x00, 0x00, 0x00},
}

// BuildNoiseControl builds the 11-byte control frame selecting a
// noise-control mode. Unrecognized modes fall back to Off's body.
func BuildNoiseControl(mode model.NoiseControlMode) []byte {
	body, ok := noiseControlBodies[mode]
	if !ok {
		body = noiseControlBodies[model.NoiseControlOff]
	}
	out := make([]byte, 11)
	copy(out, body[:])
	return out
}

// BuildListeningModes builds the 11-byte control frame carrying the
// listening-modes bitmask verbatim. Validating that at least two bits are
// set is the caller's responsibility (spec.md section 4.1).
func BuildListeningModes(modes model.ListeningModes) []byte {
	return []byte{0x04, 0x00, 0x04, 0x00, 0x09, 0x00, 0x1A, byte(modes), 0x00, 0x00, 0x00}
}

// BuildConversationalAwareness builds the 11-byte control frame toggling
// conversational awareness.
func BuildConversationalAwareness(enabled bool) []byte {
	b := byte(2)
	if enabled {
		b = 1
	}
	return []byte{0x04, 0x00, 0x04, 0x00, 0x09, 0x00, 0x28, b, 0x00, 0x00, 0x00}
}

// BuildAdaptiveLevel builds the 11-byte control frame carrying an adaptive
// noise level, clamped to [0, 100] before being embedded.
func BuildAdaptiveLevel(level int) []byte {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return []byte{0x04, 0x00, 0x04, 0x00, 0x09, 0x00, 0x2E, byte(level), 0x00, 0x00, 0x00}
}

// BuildFeatureSet is the fixed feature-set frame sent as the second step of
// the post-connect initialization triplet.
var BuildFeatureSet = []byte{0x04, 0x00, 0x04, 0x00, 0x4d, 0x00, 0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// BuildRequestNotifications is the fixed request-notifications frame sent as
// the third step of the post-connect initialization triplet.
var BuildRequestNotifications = []byte{0x04, 0x00, 0x04, 0x00, 0x0F, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}
