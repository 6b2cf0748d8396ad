package server

import (
	"errors"

	"github.com/georgelake2/plcaudit/internal/cip/codec"
	"github.com/georgelake2/plcaudit/internal/cip/protocol"
	"github.com/georgelake2/plcaudit/internal/enip"
)

// conn is the per-connection session state.
type conn struct {
	remote string
	handle uint32
}

// action tells the connection loop what to do after a frame.
type action int

const (
	actionReply action = iota
	actionClose
)

// handleFrame serves one encapsulation frame. A nil reply with
// actionReply sends nothing.
func (s *Server) handleFrame(c *conn, f enip.Frame) ([]byte, action) {
	switch f.Header.Command {
	case enip.CommandRegisterSession:
		return s.handleRegister(c, f), actionReply
	case enip.CommandUnregisterSession:
		if f.Header.SessionHandle == c.handle && c.handle != 0 {
			s.logger.Verbose("Session 0x%08X unregistered by %s", c.handle, c.remote)
			c.handle = 0
		}
		return nil, actionClose
	case enip.CommandSendRRData:
		return s.handleSendRRData(c, f), actionReply
	default:
		return encapReply(f.Header, c.handle, enip.StatusInvalidCommand, nil), actionReply
	}
}

func (s *Server) handleRegister(c *conn, f enip.Frame) []byte {
	if len(f.Body) < 4 {
		return encapReply(f.Header, 0, enip.StatusInvalidLength, nil)
	}
	r := codec.NewReader(f.Body)
	version, _ := r.Uint16()
	if version != 1 {
		return encapReply(f.Header, 0, enip.StatusUnsupportedRev, f.Body[:4])
	}
	if c.handle != 0 {
		// A connection holds at most one session.
		return encapReply(f.Header, c.handle, enip.StatusInvalidCommand, f.Body[:4])
	}
	c.handle = s.nextHandle()
	s.logger.Info("Registered session 0x%08X for %s", c.handle, c.remote)
	return encapReply(f.Header, c.handle, enip.StatusSuccess, f.Body[:4])
}

func (s *Server) handleSendRRData(c *conn, f enip.Frame) []byte {
	if c.handle == 0 || f.Header.SessionHandle != c.handle {
		return encapReply(f.Header, f.Header.SessionHandle, enip.StatusInvalidSession, nil)
	}
	cip, err := enip.ExtractUnconnectedData(f.Body)
	if err != nil {
		s.logger.Debug("Bad CPF from %s: %v", c.remote, err)
		return encapReply(f.Header, c.handle, enip.StatusIncorrectData, nil)
	}
	s.requests.Add(1)
	return encapReply(f.Header, c.handle, enip.StatusSuccess, enip.WrapSendRRData(s.serveCIP(cip)))
}

// serveCIP answers one Read Tag or Write Tag request body.
func (s *Server) serveCIP(data []byte) []byte {
	if len(data) == 0 {
		return protocol.BuildReply(0, protocol.StatusNotEnoughData, nil, nil)
	}
	service := data[0]
	if service != protocol.ServiceReadTag && service != protocol.ServiceWriteTag {
		return protocol.BuildReply(service, protocol.StatusServiceNotSupported, nil, nil)
	}
	req, err := protocol.ParseRequest(data)
	if err != nil {
		s.logger.Debug("Bad request 0x%02X: %v", service, err)
		if errors.Is(err, codec.ErrShortBuffer) {
			return protocol.BuildReply(service, protocol.StatusNotEnoughData, nil, nil)
		}
		return protocol.BuildReply(service, protocol.StatusPathSegmentError, nil, nil)
	}
	if req.Service == protocol.ServiceReadTag {
		return s.tags.read(req)
	}
	reply := s.tags.write(req)
	if len(reply) > 2 && reply[2] == protocol.StatusSuccess {
		s.logger.Verbose("Tag %s written", req.Tag)
	}
	return reply
}

// encapReply echoes the request's command, sender context and options.
func encapReply(req enip.Header, handle, status uint32, body []byte) []byte {
	h := enip.Header{
		Command:       req.Command,
		Length:        uint16(len(body)),
		SessionHandle: handle,
		Status:        status,
		SenderContext: req.SenderContext,
		Options:       req.Options,
	}
	return append(h.Encode(make([]byte, 0, enip.HeaderSize+len(body))), body...)
}
