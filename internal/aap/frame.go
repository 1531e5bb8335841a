// Package aap implements the Apple Accessory Protocol (AAP), a small
// reverse-engineered binary framing spoken over an L2CAP control channel.
//
// The codec is pure and I/O-free: Parse classifies and decodes a single
// inbound frame, and the Build* functions construct outbound control
// frames. Nothing in this package touches a socket or a bus connection.
//
// Based on reverse engineering work referenced by the LibrePods and
// OpenPods projects, the same lineage the teacher package documents.
package aap

import (
	"errors"
	"fmt"

	"github.com/mstroecker/airpodsd/internal/model"
)

// standardHeader is the constant 4-byte prefix on every non-handshake frame.
var standardHeader = [4]byte{0x04, 0x00, 0x04, 0x00}

// handshakePrefix is the 2-byte prefix used only on the initial client hello.
var handshakePrefix = [2]byte{0x00, 0x00}

// Opcode identifies the byte at offset 4 of a standard-header frame.
type Opcode uint8

const (
	OpcodeBattery      Opcode = 0x04
	OpcodeEarDetection Opcode = 0x06
	OpcodeControl      Opcode = 0x09
	OpcodeMetadata     Opcode = 0x1D
	OpcodeCADetection  Opcode = 0x4B
)

// ControlSubOpcode identifies the byte at offset 6 of an OpcodeControl frame.
type ControlSubOpcode uint8

const (
	SubOpcodeNoiseControl        ControlSubOpcode = 0x0D
	SubOpcodeListeningModes      ControlSubOpcode = 0x1A
	SubOpcodeConversationalAware ControlSubOpcode = 0x28
	SubOpcodeAdaptiveLevel       ControlSubOpcode = 0x2E
)

// Outcome classifies how Parse resolved a frame, per spec.md section 4.1.
type Outcome int

const (
	Ok Outcome = iota
	Incomplete
	InvalidHeader
	UnknownOpcode
	Malformed
)

// ParseError carries the Outcome alongside a human-readable reason. Callers
// that only care about the outcome class can compare against the sentinel
// errors below with errors.Is.
type ParseError struct {
	Outcome Outcome
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("aap: %s", e.Reason)
}

// Is implements errors.Is against the four sentinel errors below, comparing
// only the Outcome class.
func (e *ParseError) Is(target error) bool {
	var pe *ParseError
	if errors.As(target, &pe) {
		return pe.Outcome == e.Outcome
	}
	return false
}

// Sentinel errors for errors.Is comparisons against Parse's return value.
var (
	ErrIncomplete    = &ParseError{Outcome: Incomplete, Reason: "incomplete frame"}
	ErrInvalidHeader = &ParseError{Outcome: InvalidHeader, Reason: "invalid header"}
	ErrUnknownOpcode = &ParseError{Outcome: UnknownOpcode, Reason: "unknown opcode"}
	ErrMalformed     = &ParseError{Outcome: Malformed, Reason: "malformed payload"}
)

func malformed(reason string) error {
	return &ParseError{Outcome: Malformed, Reason: reason}
}

func incomplete(reason string) error {
	return &ParseError{Outcome: Incomplete, Reason: reason}
}

// Frame is the decoded result of a successful Parse call. Exactly one of the
// typed fields is non-nil, selected by Opcode.
type Frame struct {
	Opcode   Opcode
	Battery  *BatteryFrame
	EarState *EarDetectionFrame
	Control  *ControlFrame
	Metadata *MetadataFrame
	CALevel  *CADetectionFrame
}

// Parse classifies and decodes a single inbound AAP frame. The handshake
// frame (2-byte 00 00 prefix) is recognized but carries no payload of
// interest to the caller, so it yields ErrUnknownOpcode like any other frame
// the orchestrator should silently ignore.
func Parse(buf []byte) (*Frame, error) {
	if len(buf) >= 2 && buf[0] == handshakePrefix[0] && buf[1] == handshakePrefix[1] {
		return nil, ErrUnknownOpcode
	}

	if len(buf) < 6 {
		return nil, incomplete("frame shorter than header+opcode")
	}
	if buf[0] != standardHeader[0] || buf[1] != standardHeader[1] ||
		buf[2] != standardHeader[2] || buf[3] != standardHeader[3] {
		return nil, ErrInvalidHeader
	}

	op := Opcode(buf[4])
	// buf[5] is the constant 0x00 separator; not validated, per spec.md.

	switch op {
	case OpcodeBattery:
		bf, err := parseBattery(buf)
		if err != nil {
			return nil, err
		}
		return &Frame{Opcode: op, Battery: bf}, nil

	case OpcodeEarDetection:
		ef, err := parseEarDetection(buf)
		if err != nil {
			return nil, err
		}
		return &Frame{Opcode: op, EarState: ef}, nil

	case OpcodeControl:
		cf, err := parseControl(buf)
		if err != nil {
			return nil, err
		}
		return &Frame{Opcode: op, Control: cf}, nil

	case OpcodeMetadata:
		mf, err := parseMetadata(buf)
		if err != nil {
			return nil, err
		}
		return &Frame{Opcode: op, Metadata: mf}, nil

	case OpcodeCADetection:
		cd, err := parseCADetection(buf)
		if err != nil {
			return nil, err
		}
		return &Frame{Opcode: op, CALevel: cd}, nil

	default:
		return nil, ErrUnknownOpcode
	}
}

// BatteryFrame is the decoded payload of an OpcodeBattery frame.
type BatteryFrame struct {
	Left  *model.Battery // nil if component absent from this frame
	Right *model.Battery
	Case  *model.Battery
}

func parseBattery(buf []byte) (*BatteryFrame, error) {
	if len(buf) < 7 {
		return nil, incomplete("battery frame missing count byte")
	}
	count := int(buf[6])
	if count < 1 || count > 3 {
		return nil, malformed(fmt.Sprintf("battery component count out of range: %d", count))
	}

	bf := &BatteryFrame{}
	offset := 7
	for i := 0; i < count; i++ {
		if offset+5 > len(buf) {
			return nil, incomplete(fmt.Sprintf("battery record %d truncated", i))
		}

		component := model.BatteryComponent(buf[offset])
		rawLevel := buf[offset+2]
		status := model.BatteryStatus(buf[offset+3])

		level := int(rawLevel)
		if level > 100 {
			level = model.BatteryUnavailable
		}
		battery := &model.Battery{Level: level, Status: status}

		switch component {
		case model.ComponentSingle, model.ComponentLeft:
			bf.Left = battery
		case model.ComponentRight:
			bf.Right = battery
		case model.ComponentCase:
			bf.Case = battery
		default:
			return nil, malformed(fmt.Sprintf("unknown battery component 0x%02x", buf[offset]))
		}

		offset += 5
	}

	return bf, nil
}

// EarDetectionFrame is the decoded payload of an OpcodeEarDetection frame.
type EarDetectionFrame struct {
	PrimaryInEar   bool
	SecondaryInEar bool
}

func parseEarDetection(buf []byte) (*EarDetectionFrame, error) {
	if len(buf) < 8 {
		return nil, incomplete("ear detection frame missing status bytes")
	}
	primary := buf[6]
	secondary := buf[7]
	if primary > 2 || secondary > 2 {
		return nil, malformed("ear detection status byte out of range")
	}
	return &EarDetectionFrame{
		PrimaryInEar:   primary == 0x00,
		SecondaryInEar: secondary == 0x00,
	}, nil
}

// ControlFrame is the decoded payload of an OpcodeControl frame, sub-typed
// by the sub-opcode at offset 6. Exactly one typed field is populated.
type ControlFrame struct {
	SubOpcode           ControlSubOpcode
	NoiseControlMode    model.NoiseControlMode
	ListeningModes      model.ListeningModes
	ConversationalAware bool
	AdaptiveLevel       int
}

func parseControl(buf []byte) (*ControlFrame, error) {
	if len(buf) < 7 {
		return nil, incomplete("control frame missing sub-opcode")
	}
	sub := ControlSubOpcode(buf[6])

	switch sub {
	case SubOpcodeNoiseControl:
		if len(buf) < 8 {
			return nil, incomplete("noise control frame missing mode byte")
		}
		var mode model.NoiseControlMode
		switch buf[7] {
		case 1:
			mode = model.NoiseControlOff
		case 2:
			mode = model.NoiseControlANC
		case 3:
			mode = model.NoiseControlTransparency
		case 4:
			mode = model.NoiseControlAdaptive
		default:
			return nil, malformed(fmt.Sprintf("unknown noise control mode byte 0x%02x", buf[7]))
		}
		return &ControlFrame{SubOpcode: sub, NoiseControlMode: mode}, nil

	case SubOpcodeListeningModes:
		if len(buf) < 8 {
			return nil, incomplete("listening modes frame missing bitmask byte")
		}
		return &ControlFrame{SubOpcode: sub, ListeningModes: model.ListeningModes(buf[7])}, nil

	case SubOpcodeConversationalAware:
		if len(buf) < 8 {
			return nil, incomplete("conversational awareness frame missing flag byte")
		}
		switch buf[7] {
		case 1:
			return &ControlFrame{SubOpcode: sub, ConversationalAware: true}, nil
		case 2:
			return &ControlFrame{SubOpcode: sub, ConversationalAware: false}, nil
		default:
			return nil, malformed(fmt.Sprintf("unknown conversational awareness byte 0x%02x", buf[7]))
		}

	case SubOpcodeAdaptiveLevel:
		if len(buf) < 8 {
			return nil, incomplete("adaptive level frame missing level byte")
		}
		level := int(buf[7])
		if level > 100 {
			level = 100
		}
		return &ControlFrame{SubOpcode: sub, AdaptiveLevel: level}, nil

	default:
		return nil, ErrUnknownOpcode
	}
}

// MetadataFrame is the decoded payload of an OpcodeMetadata frame.
type MetadataFrame struct {
	DeviceName   string
	ModelNumber  string
	Manufacturer string
}

const maxMetadataFieldLen = 64

func parseMetadata(buf []byte) (*MetadataFrame, error) {
	// header(4) + opcode(1) + separator(1) + 6 unspecified bytes = offset 12
	const fieldsStart = 12
	if len(buf) < fieldsStart {
		return nil, incomplete("metadata frame missing fixed prefix")
	}

	fields := make([]string, 0, 3)
	offset := fieldsStart
	for len(fields) < 3 {
		end := offset
		for end < len(buf) && buf[end] != 0x00 {
			end++
		}
		if end >= len(buf) {
			return nil, incomplete("metadata frame missing NUL terminator")
		}
		s := string(buf[offset:end])
		if len(s) > maxMetadataFieldLen {
			s = s[:maxMetadataFieldLen]
		}
		fields = append(fields, s)
		offset = end + 1
	}

	return &MetadataFrame{
		DeviceName:   fields[0],
		ModelNumber:  fields[1],
		Manufacturer: fields[2],
	}, nil
}

// CADetectionFrame is the decoded payload of an OpcodeCADetection frame: an
// opaque volume level, per spec.md section 4.1.
type CADetectionFrame struct {
	Level uint8
}

func parseCADetection(buf []byte) (*CADetectionFrame, error) {
	if len(buf) < 7 {
		return nil, incomplete("CA detection frame missing level byte")
	}
	return &CADetectionFrame{Level: buf[6]}, nil
}
