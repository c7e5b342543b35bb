// Package row serializes and deserializes the fixed-layout row record
// stored in each leaf cell's value region: id (4 bytes), username
// (32 bytes, NUL-padded), email (256 bytes, NUL-padded).
package row

import (
	"fmt"
	"unicode/utf8"
)

const (
	UsernameSize = 32
	EmailSize    = 256
	// Size is the row payload alone, excluding the separately stored
	// key: 4 + 32 + 256 = 292 bytes.
	Size = 4 + UsernameSize + EmailSize
)

// Row is the primary-key-redundant record: ID is also the page's cell
// key, stored again here in the row payload.
type Row struct {
	ID       uint32
	Username string
	Email    string
}

// Serialize writes row into dst, which must be exactly Size bytes.
func Serialize(r Row, dst []byte) error {
	if len(dst) != Size {
		return fmt.Errorf("row: serialize: dst length %d, expected %d", len(dst), Size)
	}
	if len(r.Username) > UsernameSize {
		return fmt.Errorf("row: username %q exceeds %d bytes", r.Username, UsernameSize)
	}
	if len(r.Email) > EmailSize {
		return fmt.Errorf("row: email %q exceeds %d bytes", r.Email, EmailSize)
	}

	for i := range dst {
		dst[i] = 0
	}

	dst[0] = byte(r.ID >> 24)
	dst[1] = byte(r.ID >> 16)
	dst[2] = byte(r.ID >> 8)
	dst[3] = byte(r.ID)

	copy(dst[4:4+UsernameSize], r.Username)
	copy(dst[4+UsernameSize:4+UsernameSize+EmailSize], r.Email)
	return nil
}

// Deserialize reads a row back out of src, which must be exactly Size
// bytes. Invalid UTF-8 in either string field indicates a corrupted
// page and is returned as an error.
func Deserialize(src []byte) (Row, error) {
	if len(src) != Size {
		return Row{}, fmt.Errorf("row: deserialize: src length %d, expected %d", len(src), Size)
	}

	id := uint32(src[0])<<24 | uint32(src[1])<<16 | uint32(src[2])<<8 | uint32(src[3])

	username, err := decodeField(src[4 : 4+UsernameSize])
	if err != nil {
		return Row{}, fmt.Errorf("row: decode username: %w", err)
	}
	email, err := decodeField(src[4+UsernameSize : 4+UsernameSize+EmailSize])
	if err != nil {
		return Row{}, fmt.Errorf("row: decode email: %w", err)
	}

	return Row{ID: id, Username: username, Email: email}, nil
}

// decodeField stops at the first NUL byte or the field width,
// whichever comes first, and requires the result to be valid UTF-8.
func decodeField(field []byte) (string, error) {
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	s := string(field[:n])
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("invalid UTF-8 in persisted field")
	}
	return s, nil
}
