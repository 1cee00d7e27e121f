package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// PrintableKeyLen is the length of the base64 printable form of a 16-byte
// key: 22 characters, with the two trailing '=' pads implicit (never
// transmitted, since MOSH_KEY strips them to save a line of terminal
// width).
const PrintableKeyLen = 22

var (
	// ErrMalformedKey is returned when a printable key string is not a
	// validly padded base64 encoding of exactly 16 bytes.
	ErrMalformedKey = errors.New("crypto: malformed printable key")

	// ErrMalleableKey is returned when a printable key string decodes
	// successfully but re-encoding the decoded bytes does not reproduce the
	// same string — i.e. the input was one of several base64 strings that
	// decode to the same 16 bytes. Per the source's own defensive check,
	// this is rejected rather than silently normalized.
	ErrMalleableKey = errors.New("crypto: printable key is a malleable base64 representation")
)

// EncodeKey renders a 16-byte key as its 22-character unpadded standard
// base64 form.
func EncodeKey(key []byte) (string, error) {
	if len(key) != KeyLen {
		return "", fmt.Errorf("crypto: key must be %d bytes, got %d", KeyLen, len(key))
	}
	return base64.StdEncoding.EncodeToString(key)[:PrintableKeyLen], nil
}

// DecodeKey parses a 22-character printable key, reconstructing the implicit
// '==' padding, and rejects any string whose decoding does not round-trip
// back to itself under re-encoding — the malleability check carried over
// from the source's base64 key validator.
func DecodeKey(printable string) ([]byte, error) {
	if len(printable) != PrintableKeyLen {
		return nil, fmt.Errorf("%w: want %d chars, got %d", ErrMalformedKey, PrintableKeyLen, len(printable))
	}

	key, err := base64.StdEncoding.DecodeString(printable + "==")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	if len(key) != KeyLen {
		return nil, fmt.Errorf("%w: decodes to %d bytes, want %d", ErrMalformedKey, len(key), KeyLen)
	}

	reencoded, err := EncodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	if reencoded != printable {
		return nil, ErrMalleableKey
	}

	return key, nil
}
