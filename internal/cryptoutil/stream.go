// Package cryptoutil encrypts archive streams and configuration files.
package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/minio/sio"
)

// EncryptWriter returns a streaming DARE writer for archive payloads. Close
// must be called to flush the final package.
func EncryptWriter(w io.Writer, key []byte) (io.WriteCloser, error) {
	return sio.EncryptWriter(w, archiveConfig(key))
}

func DecryptReader(r io.Reader, key []byte) (io.Reader, error) {
	return sio.DecryptReader(r, archiveConfig(key))
}

func archiveConfig(key []byte) sio.Config {
	return sio.Config{Key: key, MinVersion: sio.Version20}
}

// KeyID is a short, non-secret fingerprint recorded next to encrypted
// archives so a pull with the wrong key fails before downloading.
func KeyID(key []byte) string {
	sum := sha256.Sum256(append([]byte("sbu-archive-key:"), key...))
	return hex.EncodeToString(sum[:8])
}
