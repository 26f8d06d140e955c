package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// Encrypted config layout: magic, big-endian version, nonce, sealed payload.
// The magic and version are authenticated as additional data.
const (
	configMagic   = "SBU1"
	configVersion = uint16(1)
	headerLen     = len(configMagic) + 2
)

var ErrNotEncryptedConfig = errors.New("not an encrypted sbu config")

func configAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func configHeader() []byte {
	return binary.BigEndian.AppendUint16([]byte(configMagic), configVersion)
}

// EncryptConfig seals a plaintext config file.
func EncryptConfig(plain, key []byte) ([]byte, error) {
	aead, err := configAEAD(key)
	if err != nil {
		return nil, err
	}
	header := configHeader()
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := append(header, nonce...)
	return aead.Seal(out, nonce, plain, header), nil
}

// DecryptConfig opens a payload produced by EncryptConfig.
func DecryptConfig(sealed, key []byte) ([]byte, error) {
	aead, err := configAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < headerLen+aead.NonceSize() || string(sealed[:len(configMagic)]) != configMagic {
		return nil, ErrNotEncryptedConfig
	}
	header := sealed[:headerLen]
	if v := binary.BigEndian.Uint16(header[len(configMagic):]); v != configVersion {
		return nil, fmt.Errorf("unsupported config version %d", v)
	}
	nonce := sealed[headerLen : headerLen+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, sealed[headerLen+aead.NonceSize():], header)
	if err != nil {
		return nil, fmt.Errorf("decrypt config: %w", err)
	}
	return plain, nil
}
