package control

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gowolf/streamhost/cryptoutil"
)

// InputSubtype tags the fixed binary layout carried inside a decrypted
// INPUT_DATA payload. This is this module's own internal
// dispatch tag (a leading big-endian u32), not part of any external
// wire contract beyond the INPUT_DATA envelope itself.
type InputSubtype uint32

const (
	SubtypeRelMouseMove InputSubtype = iota + 1
	SubtypeAbsMouseMove
	SubtypeMouseButton
	SubtypeScroll
	SubtypeKeyboard
	SubtypeControllerMulti
	SubtypeController
	SubtypeUTF8Text
)

// ErrMalformedInput is returned when an INPUT_DATA payload is too
// short for its declared subtype.
var ErrMalformedInput = errors.New("control: malformed input packet")

// RelMouseMove is a relative mouse-move event.
type RelMouseMove struct {
	DeltaX, DeltaY int16
}

// AbsMouseMove is an absolute mouse-move event carrying the client's
// reported viewport size.
type AbsMouseMove struct {
	X, Y, ViewportWidth, ViewportHeight int16
}

// MouseButton press/release.
type MouseButton struct {
	Button  uint8
	Pressed bool
}

// Scroll is a wheel event.
type Scroll struct {
	Amount int16
}

// KeyEvent is a keyboard key press/release.
type KeyEvent struct {
	KeyCode   uint16
	Modifiers uint8
	Pressed   bool
}

// ControllerMulti is the modern multi-controller input report.
type ControllerMulti struct {
	ControllerNumber  uint16
	ActiveGamepadMask uint16
	Buttons           uint32
	LeftTrigger       uint8
	RightTrigger      uint8
	LeftStickX        int16
	LeftStickY        int16
	RightStickX       int16
	RightStickY       int16
}

// Controller is the legacy single-controller input report.
type Controller struct {
	Buttons      uint16
	LeftTrigger  uint8
	RightTrigger uint8
	LeftStickX   int16
	LeftStickY   int16
	RightStickX  int16
	RightStickY  int16
}

// TextInput is decoded UTF-8 text pasted into the virtual keyboard,
// reconstructed from the wire's hex-encoded 3-byte-per-codepoint
// big-endian UTF-32 triplets.
type TextInput struct {
	Text string
}

// DecodeInputPacket parses a decrypted INPUT_DATA payload into one of
// the concrete event types above.
func DecodeInputPacket(payload []byte) (any, error) {
	if len(payload) < 4 {
		return nil, ErrMalformedInput
	}
	subtype := InputSubtype(binary.BigEndian.Uint32(payload[0:4]))
	body := payload[4:]

	switch subtype {
	case SubtypeRelMouseMove:
		if len(body) < 4 {
			return nil, ErrMalformedInput
		}
		return RelMouseMove{
			DeltaX: int16(binary.BigEndian.Uint16(body[0:2])),
			DeltaY: int16(binary.BigEndian.Uint16(body[2:4])),
		}, nil
	case SubtypeAbsMouseMove:
		if len(body) < 8 {
			return nil, ErrMalformedInput
		}
		return AbsMouseMove{
			X:              int16(binary.BigEndian.Uint16(body[0:2])),
			Y:              int16(binary.BigEndian.Uint16(body[2:4])),
			ViewportWidth:  int16(binary.BigEndian.Uint16(body[4:6])),
			ViewportHeight: int16(binary.BigEndian.Uint16(body[6:8])),
		}, nil
	case SubtypeMouseButton:
		if len(body) < 2 {
			return nil, ErrMalformedInput
		}
		return MouseButton{Button: body[0], Pressed: body[1] != 0}, nil
	case SubtypeScroll:
		if len(body) < 2 {
			return nil, ErrMalformedInput
		}
		return Scroll{Amount: int16(binary.BigEndian.Uint16(body[0:2]))}, nil
	case SubtypeKeyboard:
		if len(body) < 4 {
			return nil, ErrMalformedInput
		}
		return KeyEvent{
			KeyCode:   binary.BigEndian.Uint16(body[0:2]),
			Modifiers: body[2],
			Pressed:   body[3] != 0,
		}, nil
	case SubtypeControllerMulti:
		if len(body) < 18 {
			return nil, ErrMalformedInput
		}
		return ControllerMulti{
			ControllerNumber:  binary.BigEndian.Uint16(body[0:2]),
			ActiveGamepadMask: binary.BigEndian.Uint16(body[2:4]),
			Buttons:           binary.BigEndian.Uint32(body[4:8]),
			LeftTrigger:       body[8],
			RightTrigger:      body[9],
			LeftStickX:        int16(binary.BigEndian.Uint16(body[10:12])),
			LeftStickY:        int16(binary.BigEndian.Uint16(body[12:14])),
			RightStickX:       int16(binary.BigEndian.Uint16(body[14:16])),
			RightStickY:       int16(binary.BigEndian.Uint16(body[16:18])),
		}, nil
	case SubtypeController:
		if len(body) < 12 {
			return nil, ErrMalformedInput
		}
		return Controller{
			Buttons:      binary.BigEndian.Uint16(body[0:2]),
			LeftTrigger:  body[2],
			RightTrigger: body[3],
			LeftStickX:   int16(binary.BigEndian.Uint16(body[4:6])),
			LeftStickY:   int16(binary.BigEndian.Uint16(body[6:8])),
			RightStickX:  int16(binary.BigEndian.Uint16(body[8:10])),
			RightStickY:  int16(binary.BigEndian.Uint16(body[10:12])),
		}, nil
	case SubtypeUTF8Text:
		text, err := decodeUTF32HexTriplets(body)
		if err != nil {
			return nil, err
		}
		return TextInput{Text: text}, nil
	default:
		return nil, errors.Errorf("control: unknown input subtype %d", subtype)
	}
}

// decodeUTF32HexTriplets implements the text-input wire format
// describes: the payload is ASCII hex digits; decoded, every 3 bytes
// form one big-endian truncated UTF-32 code point.
func decodeUTF32HexTriplets(body []byte) (string, error) {
	raw := cryptoutil.HexToBytes(string(body), false)
	if len(raw)%3 != 0 {
		return "", ErrMalformedInput
	}
	runes := make([]rune, 0, len(raw)/3)
	for i := 0; i < len(raw); i += 3 {
		cp := uint32(raw[i])<<16 | uint32(raw[i+1])<<8 | uint32(raw[i+2])
		runes = append(runes, rune(cp))
	}
	return string(runes), nil
}
