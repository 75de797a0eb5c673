package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	crdb "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/moldline-backend/internal/platform/blob"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

// Archiver copies fetched datasets to their content-addressed key.
type Archiver struct {
	log   *logger.Logger
	store blob.Store
	obs   Observer

	ensureMu sync.Mutex
	ensured  bool
}

func NewArchiver(log *logger.Logger, store blob.Store, obs Observer) *Archiver {
	if log == nil {
		log = logger.NewNop()
	}
	return &Archiver{
		log:   log.With("service", "Archiver"),
		store: store,
		obs:   observerOrNop(obs),
	}
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.ensureMu.Lock()
	defer a.ensureMu.Unlock()
	if a.ensured {
		return nil
	}
	if err := a.store.EnsureBucket(ctx); err != nil {
		return err
	}
	a.ensured = true
	return nil
}

// Archive uploads the handle's bytes to datasets/<digest>.json. When that
// key already exists the upload is skipped.
func (a *Archiver) Archive(ctx context.Context, handle DatasetHandle) (out ArchivedDataset, err error) {
	ctx, span := startSpan(ctx, "ingest.archive", attribute.String("digest", handle.Digest))
	started := time.Now()
	defer func() {
		a.obs.RecordStage(string(StageArchive), time.Since(started), kindLabel(err))
		endSpan(span, err)
	}()

	if handle.Digest == "" || handle.StorageRef == "" {
		return ArchivedDataset{}, &ArchiveError{Kind: KindMissingInput, Err: crdb.New("dataset handle has no digest or storage ref")}
	}
	key := ObjectKey(handle.Digest)
	out = ArchivedDataset{
		DatasetHandle: handle,
		ObjectKey:     key,
		ObjectURI:     a.store.URI(key),
	}

	if err := a.ensureBucket(ctx); err != nil {
		return ArchivedDataset{}, &ArchiveError{Kind: classifyBlobError(err), Err: crdb.Wrap(err, "ensure bucket")}
	}

	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return ArchivedDataset{}, &ArchiveError{Kind: classifyBlobError(err), Err: crdb.Wrap(err, "check existing archive")}
	}
	if exists {
		a.obs.RecordArchiveDedup()
		a.log.Info("Archive already present, skipping upload", "key", key)
		return out, nil
	}

	file, err := os.Open(handle.StorageRef)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ArchivedDataset{}, &ArchiveError{Kind: KindMissingInput, Err: crdb.Wrap(err, "open fetched dataset")}
		}
		return ArchivedDataset{}, &ArchiveError{Kind: KindStoreUnavailable, Err: crdb.Wrap(err, "open fetched dataset")}
	}
	defer file.Close()

	body := newDigestReader(file, handle.Digest, handle.SizeBytes)
	if err := a.store.Put(ctx, key, body, handle.SizeBytes); err != nil {
		if body.mismatch != nil {
			return ArchivedDataset{}, &ArchiveError{Kind: KindDigestMismatch, Err: crdb.Wrap(body.mismatch, "upload dataset")}
		}
		return ArchivedDataset{}, &ArchiveError{Kind: classifyBlobError(err), Err: crdb.Wrap(err, "upload dataset")}
	}
	a.log.Info("Archived dataset", "uri", out.ObjectURI, "size_bytes", handle.SizeBytes)
	return out, nil
}

// digestReader hashes what it passes through. At EOF it fails instead of
// returning io.EOF when the bytes do not match the fetched digest and size,
// so the store aborts the upload rather than committing it.
type digestReader struct {
	r        io.Reader
	h        hash.Hash
	n        int64
	digest   string
	size     int64
	mismatch error
}

func newDigestReader(r io.Reader, digest string, size int64) *digestReader {
	return &digestReader{r: r, h: sha256.New(), digest: digest, size: size}
}

func (d *digestReader) Read(p []byte) (int, error) {
	if d.mismatch != nil {
		return 0, d.mismatch
	}
	n, err := d.r.Read(p)
	d.h.Write(p[:n])
	d.n += int64(n)
	if d.size >= 0 && d.n > d.size {
		d.mismatch = crdb.Newf("dataset grew past %d bytes since fetch", crdb.Safe(d.size))
		return 0, d.mismatch
	}
	if err == io.EOF {
		if got := hex.EncodeToString(d.h.Sum(nil)); got != d.digest || (d.size >= 0 && d.n != d.size) {
			d.mismatch = crdb.Newf("dataset changed since fetch: digest %s, %d bytes", crdb.Safe(shortDigest(got)), crdb.Safe(d.n))
			return n, d.mismatch
		}
	}
	return n, err
}
