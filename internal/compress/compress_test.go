package compress

import (
	"bytes"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("CREATE TABLE todos (id int);\n"), 500)
	for _, kind := range []string{TypeNone, TypeGzip, TypeZstd} {
		var buf bytes.Buffer
		w, err := WrapWriter(kind, &buf)
		if err != nil {
			t.Fatalf("%s writer: %v", kind, err)
		}
		if _, err := w.Write(payload); err != nil {
			t.Fatalf("%s write: %v", kind, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("%s close: %v", kind, err)
		}
		r, err := WrapReader(kind, &buf)
		if err != nil {
			t.Fatalf("%s reader: %v", kind, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("%s read: %v", kind, err)
		}
		_ = r.Close()
		if !bytes.Equal(got, payload) {
			t.Fatalf("%s round trip mismatch", kind)
		}
	}
}

func TestFromKey(t *testing.T) {
	cases := map[string]string{
		"backup_20240101_000000.tar.zst":     TypeZstd,
		"backup_20240101_000000.tar.gz.enc":  TypeGzip,
		"backup_20240101_000000.tar":         TypeNone,
		"backup_20240101_000000.tar.zst.enc": TypeZstd,
	}
	for key, want := range cases {
		if got := FromKey(key); got != want {
			t.Fatalf("FromKey(%q) = %q, want %q", key, got, want)
		}
	}
	if Extension(TypeZstd) != ".zst" || Extension(TypeNone) != "" {
		t.Fatalf("unexpected extensions")
	}
}

func TestUnsupported(t *testing.T) {
	if _, err := WrapWriter("lz4", io.Discard); err == nil {
		t.Fatalf("expected error for unknown compression")
	}
}
