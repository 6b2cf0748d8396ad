package enip

import (
	"bytes"
	"testing"
)

func TestSplitFrames(t *testing.T) {
	a, _ := BuildFrame(CommandRegisterSession, 0, RegisterSessionBody)
	b, _ := BuildFrame(CommandSendRRData, 7, WrapSendRRData([]byte{0x4C, 0x00}))

	var stream []byte
	stream = append(stream, 0xEE) // garbage before the first frame
	stream = append(stream, a...)
	stream = append(stream, b...)
	stream = append(stream, b[:10]...)

	frames, rest := SplitFrames(stream)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Header.Command != CommandRegisterSession || !bytes.Equal(frames[0].Body, RegisterSessionBody) {
		t.Fatalf("frame 0 = %+v", frames[0])
	}
	if frames[1].Header.SessionHandle != 7 {
		t.Fatalf("frame 1 session = %d", frames[1].Header.SessionHandle)
	}
	if !bytes.Equal(rest, b[:10]) {
		t.Fatalf("rest = % X", rest)
	}

	frames, rest = SplitFrames(append(rest, b[10:]...))
	if len(frames) != 1 || len(rest) != 0 {
		t.Fatalf("after completing: %d frames, %d bytes left", len(frames), len(rest))
	}
}
