package cryptoutil

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the length of archive and config keys.
const KeySize = 32

var ErrKeySize = fmt.Errorf("encryption key must decode to %d bytes", KeySize)

type keyDecoder struct {
	scheme string
	decode func(string) ([]byte, error)
}

var keyDecoders = []keyDecoder{
	{"base64", base64.StdEncoding.DecodeString},
	{"hex", hex.DecodeString},
}

// ParseKey decodes a key written as base64 or hex, optionally tagged
// "base64:" or "hex:". An untagged key is accepted from the first encoding
// that yields exactly KeySize bytes.
func ParseKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("encryption key is empty")
	}
	candidates := keyDecoders
	if scheme, rest, ok := strings.Cut(key, ":"); ok {
		for _, d := range keyDecoders {
			if d.scheme == scheme {
				candidates, key = []keyDecoder{d}, rest
			}
		}
	}

	var firstErr error
	for _, d := range candidates {
		data, err := d.decode(key)
		switch {
		case err != nil:
			err = fmt.Errorf("decode %s key: %w", d.scheme, err)
		case len(data) != KeySize:
			err = fmt.Errorf("%w: %s key has %d", ErrKeySize, d.scheme, len(data))
		default:
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
