package protocol

import (
	"fmt"
	"strings"

	"github.com/georgelake2/plcaudit/internal/cip/codec"
)

// EncodeSymbolPath encodes a dot-separated tag name as a sequence of ANSI
// extended symbol segments, each padded to an even length. Empty tokens
// are skipped.
func EncodeSymbolPath(tag string) ([]byte, error) {
	var path []byte
	for _, seg := range strings.Split(tag, ".") {
		if seg == "" {
			continue
		}
		if len(seg) > 0xFF {
			return nil, fmt.Errorf("%w: %q", ErrSegmentTooLong, seg)
		}
		path = append(path, SegmentANSIExtendedSymbol, byte(len(seg)))
		path = append(path, seg...)
		if len(seg)%2 != 0 {
			path = append(path, 0x00)
		}
	}
	if len(path) == 0 {
		return nil, ErrEmptyTag
	}
	if len(path) > MaxPathBytes {
		return nil, fmt.Errorf("%w: %d bytes for %q", ErrPathTooLong, len(path), tag)
	}
	return path, nil
}

// DecodeSymbolPath splits an encoded symbol path back into its tokens.
func DecodeSymbolPath(path []byte) ([]string, error) {
	r := codec.NewReader(path)
	var tokens []string
	for r.Len() > 0 {
		kind, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		if kind != SegmentANSIExtendedSymbol {
			return nil, fmt.Errorf("unsupported path segment 0x%02X at offset %d", kind, r.Offset()-1)
		}
		n, err := r.Uint8()
		if err != nil {
			return nil, fmt.Errorf("symbol segment length: %w", err)
		}
		name, err := r.Bytes(int(n))
		if err != nil {
			return nil, fmt.Errorf("symbol segment name: %w", err)
		}
		if n%2 != 0 {
			if err := r.Skip(1); err != nil {
				return nil, fmt.Errorf("symbol segment pad: %w", err)
			}
		}
		tokens = append(tokens, string(name))
	}
	if len(tokens) == 0 {
		return nil, ErrEmptyTag
	}
	return tokens, nil
}

// DecodeSymbolTag decodes a symbol path into its dotted tag name.
func DecodeSymbolTag(path []byte) (string, error) {
	tokens, err := DecodeSymbolPath(path)
	if err != nil {
		return "", err
	}
	return strings.Join(tokens, "."), nil
}
