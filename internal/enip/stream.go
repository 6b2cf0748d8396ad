package enip

// Frame is one complete encapsulation message cut from a byte stream.
type Frame struct {
	Header Header
	Body   []byte
}

// SplitFrames cuts as many complete frames as buffer holds and returns the
// unconsumed tail. Bytes that do not start a known command are skipped one
// at a time until the stream resynchronises.
func SplitFrames(buffer []byte) ([]Frame, []byte) {
	var frames []Frame
	offset := 0
	for len(buffer)-offset >= HeaderSize {
		h, err := DecodeHeader(buffer[offset:])
		if err != nil || !knownCommand(h.Command) {
			offset++
			continue
		}
		total := HeaderSize + int(h.Length)
		if len(buffer)-offset < total {
			break
		}
		body := make([]byte, h.Length)
		copy(body, buffer[offset+HeaderSize:offset+total])
		frames = append(frames, Frame{Header: h, Body: body})
		offset += total
	}
	if offset == 0 {
		return frames, buffer
	}
	rest := make([]byte, len(buffer)-offset)
	copy(rest, buffer[offset:])
	return frames, rest
}

func knownCommand(cmd uint16) bool {
	switch cmd {
	case CommandRegisterSession, CommandUnregisterSession, CommandSendRRData:
		return true
	default:
		return false
	}
}
