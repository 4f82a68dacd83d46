// Package tlv reads and writes the BER-TLV used by the wallet applet.
//
// Tag search and length coding come from keycard-go's apdu package. That
// search does not notice a value cut short by the end of the buffer, so
// every level is checked for exact consumption before it is searched.
package tlv

import (
	"bytes"
	"errors"
	"fmt"

	kapdu "github.com/status-im/keycard-go/apdu"
)

// Parse errors.
var (
	ErrTruncated = errors.New("tlv: truncated")
	ErrNotFound  = errors.New("tlv: tag not found")
)

// Tags returns the tag of every element at the top level of raw. The whole
// of raw must be a sequence of complete elements.
func Tags(raw []byte) ([]byte, error) {
	var tags []byte
	buf := bytes.NewBuffer(raw)
	for buf.Len() > 0 {
		tag, _ := buf.ReadByte()
		if buf.Len() == 0 {
			return nil, fmt.Errorf("%w: tag 0x%02X has no length", ErrTruncated, tag)
		}
		if first := buf.Bytes()[0]; first > 0x80 && buf.Len() <= int(first-0x80) {
			return nil, fmt.Errorf("%w: tag 0x%02X length", ErrTruncated, tag)
		}
		length, err := kapdu.ParseLength(buf)
		if err != nil {
			return nil, fmt.Errorf("tlv: tag 0x%02X: %w", tag, err)
		}
		if uint32(buf.Len()) < length {
			return nil, fmt.Errorf("%w: tag 0x%02X wants %d bytes, %d left", ErrTruncated, tag, length, buf.Len())
		}
		buf.Next(int(length))
		tags = append(tags, tag)
	}
	return tags, nil
}

// Find returns the value at the end of the tag path.
func Find(raw []byte, path ...byte) ([]byte, error) {
	return FindN(raw, 0, path...)
}

// FindN returns the value of the n-th occurrence (from zero) of the last
// tag in path.
func FindN(raw []byte, n int, path ...byte) ([]byte, error) {
	cur := raw
	for i, tag := range path {
		if _, err := Tags(cur); err != nil {
			return nil, err
		}
		occurrence := 0
		if i == len(path)-1 {
			occurrence = n
		}
		v, err := kapdu.FindTagN(cur, occurrence, kapdu.Tag{tag})
		if err != nil {
			var nf *kapdu.ErrTagNotFound
			if errors.As(err, &nf) {
				return nil, fmt.Errorf("%w: 0x%02X", ErrNotFound, tag)
			}
			return nil, err
		}
		cur = v
	}
	return cur, nil
}

// Encode encodes a single element.
func Encode(tag byte, value []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(tag)
	kapdu.WriteLength(&buf, uint32(len(value)))
	buf.Write(value)
	return buf.Bytes()
}

// EncodeTemplate encodes a constructed element from already encoded children.
func EncodeTemplate(tag byte, children ...[]byte) []byte {
	return Encode(tag, bytes.Join(children, nil))
}
