package cryptoutil

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"testing"
)

func TestParseKeyBase64(t *testing.T) {
	key := make([]byte, 32)
	encoded := base64.StdEncoding.EncodeToString(key)
	parsed, err := ParseKey(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed) != 32 {
		t.Fatalf("unexpected key length: %d", len(parsed))
	}
}

func TestParseKeyHex(t *testing.T) {
	want := bytes.Repeat([]byte{0xab}, 32)
	for _, in := range []string{hex.EncodeToString(want), "hex:" + hex.EncodeToString(want)} {
		got, err := ParseKey(in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", in, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("%s: decoded wrong key", in)
		}
	}
}

func TestParseKeyRejectsShortKey(t *testing.T) {
	_, err := ParseKey("hex:" + hex.EncodeToString(make([]byte, 16)))
	if !errors.Is(err, ErrKeySize) {
		t.Fatalf("expected length error, got %v", err)
	}
	if _, err := ParseKey("  "); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	plain := []byte("project:\n  url: https://abcd.supabase.co\n")
	enc, err := EncryptConfig(plain, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if string(enc[:4]) != "SBU1" {
		t.Fatalf("unexpected header %q", enc[:4])
	}
	got, err := DecryptConfig(enc, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
	if _, err := DecryptConfig(enc, bytes.Repeat([]byte{8}, 32)); err == nil {
		t.Fatalf("expected failure with wrong key")
	}
	tampered := append([]byte(nil), enc...)
	tampered[5] = 2
	if _, err := DecryptConfig(tampered, key); err == nil {
		t.Fatalf("expected failure with a modified header")
	}
	if _, err := DecryptConfig(plain, key); !errors.Is(err, ErrNotEncryptedConfig) {
		t.Fatalf("expected plaintext to be rejected, got %v", err)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	payload := bytes.Repeat([]byte("bundle-bytes "), 10000)

	var sealed bytes.Buffer
	w, err := EncryptWriter(&sealed, key)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := DecryptReader(&sealed, key)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("stream round trip mismatch")
	}
}

func TestKeyIDStable(t *testing.T) {
	a := KeyID(bytes.Repeat([]byte{1}, 32))
	if a != KeyID(bytes.Repeat([]byte{1}, 32)) || len(a) != 16 {
		t.Fatalf("unexpected key id %q", a)
	}
	if a == KeyID(bytes.Repeat([]byte{2}, 32)) {
		t.Fatalf("distinct keys share an id")
	}
}
