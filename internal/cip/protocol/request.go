package protocol

import (
	"fmt"

	"github.com/georgelake2/plcaudit/internal/cip/codec"
)

// BuildReadRequest builds a Read Tag request for elements items of tag.
func BuildReadRequest(tag string, elements uint16) ([]byte, error) {
	path, err := EncodeSymbolPath(tag)
	if err != nil {
		return nil, err
	}
	req := make([]byte, 0, 2+len(path)+2)
	req = append(req, ServiceReadTag, byte(len(path)/2))
	req = append(req, path...)
	req = codec.AppendUint16(req, elements)
	return req, nil
}

// BuildWriteRequest builds a single-element Write Tag request: the symbol
// path followed by the type id, an element count of 1 and the value bytes.
func BuildWriteRequest(tag string, v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("write %s: nil value", tag)
	}
	path, err := EncodeSymbolPath(tag)
	if err != nil {
		return nil, err
	}
	req := make([]byte, 0, 2+len(path)+4+v.Type().Size())
	req = append(req, ServiceWriteTag, byte(len(path)/2))
	req = append(req, path...)
	req = codec.AppendUint16(req, uint16(v.Type()))
	req = codec.AppendUint16(req, 1)
	req = v.AppendTo(req)
	return req, nil
}

func BuildWriteBool(tag string, value bool) ([]byte, error) {
	return BuildWriteRequest(tag, Bool(value))
}

func BuildWriteDint(tag string, value int32) ([]byte, error) {
	return BuildWriteRequest(tag, Dint(value))
}

// Request is a decoded tag service request, as seen by a controller.
type Request struct {
	Service  uint8
	Path     []byte
	Tag      string
	Elements uint16

	// Set for Write Tag only.
	WriteType DataType
	WriteData []byte
}

// ParseRequest decodes a Read Tag or Write Tag request body.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	r := codec.NewReader(data)

	svc, err := r.Uint8()
	if err != nil {
		return req, fmt.Errorf("service: %w", err)
	}
	req.Service = svc
	words, err := r.Uint8()
	if err != nil {
		return req, fmt.Errorf("path size: %w", err)
	}
	path, err := r.Bytes(int(words) * 2)
	if err != nil {
		return req, fmt.Errorf("path: %w", err)
	}
	req.Path = path

	switch svc {
	case ServiceReadTag:
		if req.Elements, err = r.Uint16(); err != nil {
			return req, fmt.Errorf("element count: %w", err)
		}
	case ServiceWriteTag:
		typ, err := r.Uint16()
		if err != nil {
			return req, fmt.Errorf("type id: %w", err)
		}
		req.WriteType = DataType(typ)
		if req.Elements, err = r.Uint16(); err != nil {
			return req, fmt.Errorf("element count: %w", err)
		}
		req.WriteData = r.Rest()
	default:
		return req, fmt.Errorf("unsupported service 0x%02X", svc)
	}

	req.Tag, err = DecodeSymbolTag(path)
	if err != nil {
		return req, err
	}
	return req, nil
}
