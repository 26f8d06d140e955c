// Package archive packs bundle directories into single compressed, optionally
// encrypted objects on an offsite destination and brings them back.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/compress"
	"github.com/rowjay/supa-backup/internal/config"
	"github.com/rowjay/supa-backup/internal/cryptoutil"
	"github.com/rowjay/supa-backup/internal/storage"
	"github.com/rowjay/supa-backup/internal/util"
)

var (
	ErrKeyMismatch = errors.New("archive was encrypted with a different key")
	ErrChecksum    = errors.New("archive checksum mismatch")
)

type Options struct {
	Project     string
	Prefix      string
	Compression string
	// Key enables encryption when set.
	Key         []byte
	ToolVersion string
	Now         func() time.Time
}

type Archiver struct {
	store storage.Storage
	opts  Options
	log   zerolog.Logger
}

func New(store storage.Storage, opts Options, log zerolog.Logger) *Archiver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Archiver{store: store, opts: opts, log: log.With().Str("operation", "archive").Logger()}
}

// Push packs a bundle and uploads it next to its archive manifest. The
// stream runs tar, compression, encryption and upload concurrently.
func (a *Archiver) Push(ctx context.Context, bundlePath, opID string) (*storage.ArchiveManifest, error) {
	summary, err := bundle.Open(bundlePath)
	if err != nil {
		return nil, err
	}
	if opID == "" {
		opID = uuid.NewString()
	}
	key := util.ArchiveKey(a.opts.Prefix, a.opts.Project, summary.Name, compress.Extension(a.opts.Compression), a.opts.Key != nil)
	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("archive %s already exists", key)
	}

	log := a.log.With().Str("op", opID).Str("bundle", summary.Name).Str("key", key).Logger()
	start := a.opts.Now()
	log.Info().Msg("archive push started")

	pr, pw := io.Pipe()
	hasher := sha256.New()
	counter := &countingWriter{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.encode(io.MultiWriter(pw, hasher, counter), bundlePath)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := a.store.Put(gctx, key, pr, -1, map[string]string{"bundle": summary.Name})
		pr.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("push %s: %w", key, err)
	}

	m := storage.ArchiveManifest{
		ID:          opID,
		Key:         key,
		Project:     a.opts.Project,
		Bundle:      summary.Name,
		Compression: a.compression(),
		Encryption:  a.opts.Key != nil,
		CreatedAt:   a.opts.Now().UTC(),
		SizeBytes:   counter.n,
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		ToolVersion: a.opts.ToolVersion,
		Manifest:    &summary.Manifest,
	}
	if a.opts.Key != nil {
		m.KeyID = cryptoutil.KeyID(a.opts.Key)
	}
	if err := storage.PutManifest(ctx, a.store, m); err != nil {
		return nil, fmt.Errorf("write archive manifest: %w", err)
	}
	log.Info().Int64("bytes", m.SizeBytes).Dur("duration", a.opts.Now().Sub(start)).Msg("archive push completed")
	return &m, nil
}

func (a *Archiver) encode(w io.Writer, dir string) error {
	var sink io.WriteCloser = nopCloser{w}
	if a.opts.Key != nil {
		enc, err := cryptoutil.EncryptWriter(w, a.opts.Key)
		if err != nil {
			return err
		}
		sink = enc
	}
	cw, err := compress.WrapWriter(a.compression(), sink)
	if err != nil {
		return err
	}
	if err := Pack(cw, dir); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return sink.Close()
}

func (a *Archiver) compression() string {
	if a.opts.Compression == "" {
		return compress.TypeNone
	}
	return a.opts.Compression
}

// Pull downloads an archive and unpacks it as a new bundle directory under
// root. It refuses to overwrite an existing bundle.
func (a *Archiver) Pull(ctx context.Context, key, root string) (string, error) {
	m, err := storage.GetManifest(ctx, a.store, key)
	if err != nil && !errors.Is(err, storage.ErrNotExist) {
		return "", err
	}
	if m == nil {
		m = &storage.ArchiveManifest{Key: key, Bundle: util.BundleFromKey(key), Compression: compress.FromKey(key), Encryption: filepath.Ext(key) == ".enc"}
	}
	if m.Encryption {
		if a.opts.Key == nil {
			return "", fmt.Errorf("archive %s is encrypted and no key is configured", key)
		}
		if m.KeyID != "" && m.KeyID != cryptoutil.KeyID(a.opts.Key) {
			return "", ErrKeyMismatch
		}
	}
	dest, err := bundle.SafeJoin(root, m.Bundle)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("bundle %s already exists", dest)
	}

	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	hasher := sha256.New()
	if err := a.decode(io.TeeReader(rc, hasher), m, dest); err != nil {
		_ = os.RemoveAll(dest)
		return "", fmt.Errorf("pull %s: %w", key, err)
	}
	if err := verifySum(hasher, rc, m.SHA256); err != nil {
		_ = os.RemoveAll(dest)
		return "", err
	}
	if _, err := bundle.ReadManifest(dest); err != nil {
		_ = os.RemoveAll(dest)
		return "", fmt.Errorf("pulled archive is not a bundle: %w", err)
	}
	a.log.Info().Str("key", key).Str("bundle", dest).Msg("archive pulled")
	return dest, nil
}

func (a *Archiver) decode(r io.Reader, m *storage.ArchiveManifest, dest string) error {
	if m.Encryption {
		dec, err := cryptoutil.DecryptReader(r, a.opts.Key)
		if err != nil {
			return err
		}
		r = dec
	}
	cr, err := compress.WrapReader(m.Compression, r)
	if err != nil {
		return err
	}
	defer cr.Close()
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return err
	}
	return Unpack(cr, dest)
}

// verifySum drains what the decoders left unread so the hash covers the
// whole object, then compares it.
func verifySum(h hash.Hash, rest io.Reader, want string) error {
	if want == "" {
		return nil
	}
	if _, err := io.Copy(h, rest); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: got %s want %s", ErrChecksum, got, want)
	}
	return nil
}

// List returns the archives of the configured project, newest first.
// Archives without a manifest are described from their key.
func (a *Archiver) List(ctx context.Context) ([]storage.ArchiveManifest, error) {
	objects, err := a.store.List(ctx, util.ArchivePrefix(a.opts.Prefix, a.opts.Project))
	if err != nil {
		return nil, err
	}
	var out []storage.ArchiveManifest
	for _, obj := range objects {
		if obj.IsManifest {
			continue
		}
		m, err := storage.GetManifest(ctx, a.store, obj.Key)
		if err != nil {
			a.log.Warn().Err(err).Str("key", obj.Key).Msg("archive manifest unreadable")
			m = &storage.ArchiveManifest{Key: obj.Key, Bundle: util.BundleFromKey(obj.Key), Compression: compress.FromKey(obj.Key), Encryption: filepath.Ext(obj.Key) == ".enc", CreatedAt: obj.Modified}
		}
		if m.SizeBytes == 0 {
			m.SizeBytes = obj.Size
		}
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Prune applies a retention policy to the configured project's archives.
func (a *Archiver) Prune(ctx context.Context, policy config.Retention) ([]storage.ObjectInfo, error) {
	deleted, err := storage.Prune(ctx, a.store, util.ArchivePrefix(a.opts.Prefix, a.opts.Project), policy, a.opts.Now())
	if err != nil {
		return nil, err
	}
	for _, obj := range deleted {
		a.log.Info().Str("key", obj.Key).Msg("archive pruned")
	}
	return deleted, nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
