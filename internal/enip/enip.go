// Package enip implements the EtherNet/IP encapsulation layer: the 24-byte
// header and the Common Packet Format body of SendRRData.
package enip

import (
	"fmt"

	"github.com/georgelake2/plcaudit/internal/cip/codec"
)

// HeaderSize is the fixed length of an encapsulation header.
const HeaderSize = 24

// Encapsulation command codes.
const (
	CommandRegisterSession   uint16 = 0x0065
	CommandUnregisterSession uint16 = 0x0066
	CommandSendRRData        uint16 = 0x006F
)

// StatusSuccess is the only encapsulation status whose body is trusted.
const StatusSuccess uint32 = 0x00000000

// Encapsulation error statuses a target may return.
const (
	StatusInvalidCommand  uint32 = 0x0001
	StatusInsufficientMem uint32 = 0x0002
	StatusIncorrectData   uint32 = 0x0003
	StatusInvalidSession  uint32 = 0x0064
	StatusInvalidLength   uint32 = 0x0065
	StatusUnsupportedRev  uint32 = 0x0069
)

// RegisterSessionBody requests protocol version 1 with no option flags.
var RegisterSessionBody = []byte{0x01, 0x00, 0x00, 0x00}

// Header is an encapsulation header. All fields are little-endian on the wire.
type Header struct {
	Command       uint16
	Length        uint16
	SessionHandle uint32
	Status        uint32
	SenderContext [8]byte
	Options       uint32
}

// Encode appends the 24-byte wire form of h to dst.
func (h Header) Encode(dst []byte) []byte {
	dst = codec.AppendUint16(dst, h.Command)
	dst = codec.AppendUint16(dst, h.Length)
	dst = codec.AppendUint32(dst, h.SessionHandle)
	dst = codec.AppendUint32(dst, h.Status)
	dst = append(dst, h.SenderContext[:]...)
	return codec.AppendUint32(dst, h.Options)
}

// DecodeHeader parses the first 24 bytes of data.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("encapsulation header: %d bytes, need %d: %w", len(data), HeaderSize, codec.ErrShortBuffer)
	}
	r := codec.NewReader(data[:HeaderSize])
	h.Command, _ = r.Uint16()
	h.Length, _ = r.Uint16()
	h.SessionHandle, _ = r.Uint32()
	h.Status, _ = r.Uint32()
	ctx, _ := r.Bytes(8)
	copy(h.SenderContext[:], ctx)
	h.Options, _ = r.Uint32()
	return h, nil
}

// BuildFrame returns header+body with Length set from the body. Bodies
// longer than 65535 bytes cannot be framed.
func BuildFrame(command uint16, session uint32, body []byte) ([]byte, error) {
	if len(body) > 0xFFFF {
		return nil, fmt.Errorf("encapsulation body of %d bytes exceeds 65535", len(body))
	}
	h := Header{Command: command, Length: uint16(len(body)), SessionHandle: session}
	frame := h.Encode(make([]byte, 0, HeaderSize+len(body)))
	return append(frame, body...), nil
}

// CommandName returns a readable name for an encapsulation command.
func CommandName(cmd uint16) string {
	switch cmd {
	case CommandRegisterSession:
		return "RegisterSession"
	case CommandUnregisterSession:
		return "UnregisterSession"
	case CommandSendRRData:
		return "SendRRData"
	default:
		return fmt.Sprintf("Command(0x%04X)", cmd)
	}
}
