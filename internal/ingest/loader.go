package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	crdb "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	repos "github.com/yungbote/moldline-backend/internal/data/repos/quality"
	"github.com/yungbote/moldline-backend/internal/domain/quality"
	"github.com/yungbote/moldline-backend/internal/platform/blob"
	"github.com/yungbote/moldline-backend/internal/platform/dbctx"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

const (
	DefaultLoadBatchSize = 500
	DefaultLoadLockKey   = "moldline:ingest:load"
)

// Locker serializes loads across processes. redislock.Locker satisfies it.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

type LoaderConfig struct {
	BatchSize int
	LockKey   string
}

type Loader struct {
	log      *logger.Logger
	db       *gorm.DB
	products repos.ProductRepo
	store    blob.Store
	locker   Locker
	cfg      LoaderConfig
	obs      Observer
}

type LoaderDeps struct {
	DB       *gorm.DB
	Products repos.ProductRepo
	// Store is read when the fetched file is not present on this host.
	Store  blob.Store
	Locker Locker
}

func NewLoader(log *logger.Logger, deps LoaderDeps, cfg LoaderConfig, obs Observer) *Loader {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultLoadBatchSize
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLoadLockKey
	}
	products := deps.Products
	if products == nil {
		products = repos.NewProductRepo(deps.DB, log)
	}
	return &Loader{
		log:      log.With("service", "Loader"),
		db:       deps.DB,
		products: products,
		store:    deps.Store,
		locker:   deps.Locker,
		cfg:      cfg,
		obs:      observerOrNop(obs),
	}
}

// Load replaces the quality tables with the dataset's contents in a single
// transaction. Rows are inserted in batches of cfg.BatchSize records; any
// failure rolls back the truncate and every batch.
func (l *Loader) Load(ctx context.Context, in LoadInput) (stats LoadStats, err error) {
	ctx, span := startSpan(ctx, "ingest.load",
		attribute.String("digest", in.Digest),
		attribute.Int("batch_size", l.cfg.BatchSize),
	)
	started := time.Now()
	defer func() {
		l.obs.RecordStage(string(StageLoad), time.Since(started), kindLabel(err))
		endSpan(span, err)
	}()

	if in.Digest == "" {
		return LoadStats{}, &LoadError{Kind: KindMissingInput, Err: crdb.New("load input has no digest")}
	}
	content, err := l.open(ctx, in)
	if err != nil {
		return LoadStats{}, err
	}
	defer content.Close()

	if l.locker != nil {
		release, lerr := l.locker.Acquire(ctx, l.cfg.LockKey)
		if lerr != nil {
			return LoadStats{}, &LoadError{Kind: KindStoreUnavailable, Err: crdb.Wrap(lerr, "acquire load lock")}
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				l.log.Warn("Release load lock failed", "error", rerr)
			}
		}()
	}

	tx := l.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return LoadStats{}, &LoadError{Kind: KindStoreUnavailable, Err: crdb.Wrap(tx.Error, "begin transaction")}
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback().Error; rbErr != nil && !errors.Is(rbErr, gorm.ErrInvalidTransaction) {
				l.log.Warn("Rollback failed", "error", rbErr)
			}
		}
	}()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	if err := l.products.Truncate(dbc); err != nil {
		return LoadStats{}, storeFailure(err, "truncate products")
	}

	hasher := sha256.New()
	src := &trackingReader{r: content}
	records, err := l.insertAll(dbc, io.TeeReader(src, hasher))
	if err != nil && src.err != nil {
		// The bytes stopped arriving; that is a store problem, not bad JSON.
		err = &LoadError{Kind: KindStoreUnavailable, Err: crdb.Wrap(src.err, "read dataset")}
	}
	if err != nil {
		return LoadStats{}, err
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != in.Digest {
		return LoadStats{}, &LoadError{
			Kind: KindDigestMismatch,
			Err:  crdb.Newf("content digest %s does not match expected %s", crdb.Safe(shortDigest(got)), crdb.Safe(shortDigest(in.Digest))),
		}
	}

	counts, err := l.products.Counts(dbc)
	if err != nil {
		return LoadStats{}, storeFailure(err, "count rows")
	}
	if err := tx.Commit().Error; err != nil {
		return LoadStats{}, storeFailure(err, "commit")
	}
	committed = true

	stats = LoadStats{Products: counts.Products, MachineStates: counts.MachineStates, Defects: counts.Defects}
	l.obs.RecordLoadedRows("products", stats.Products)
	l.obs.RecordLoadedRows("machine_states", stats.MachineStates)
	l.obs.RecordLoadedRows("defects", stats.Defects)
	l.log.Info("Load committed",
		"records", records,
		"products", stats.Products,
		"machine_states", stats.MachineStates,
		"defects", stats.Defects,
	)
	return stats, nil
}

// open prefers the fetched file and falls back to the archived object.
func (l *Loader) open(ctx context.Context, in LoadInput) (io.ReadCloser, error) {
	if in.StorageRef != "" {
		f, err := os.Open(in.StorageRef)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Kind: KindStoreUnavailable, Err: crdb.Wrap(err, "open fetched dataset")}
		}
	}
	if in.ObjectKey == "" || l.store == nil {
		return nil, &LoadError{Kind: KindMissingInput, Err: crdb.New("dataset is neither on local disk nor archived")}
	}
	l.log.Info("Reading dataset from archive", "key", in.ObjectKey)
	rc, err := l.store.Get(ctx, in.ObjectKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, &LoadError{Kind: KindMissingInput, Err: crdb.Wrap(err, "archived dataset missing")}
		}
		return nil, &LoadError{Kind: KindStoreUnavailable, Err: crdb.Wrap(err, "open archived dataset")}
	}
	return rc, nil
}

// insertAll streams the JSON array and flushes every BatchSize records. It
// drains r so a hashing reader sees every byte, including trailing
// whitespace.
func (l *Loader) insertAll(dbc dbctx.Context, r io.Reader) (int, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return 0, parseFailure(err, "read dataset start")
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return 0, &LoadError{Kind: KindParseFailure, Err: crdb.New("dataset is not a JSON array")}
	}

	batch := make([]*recordRows, 0, l.cfg.BatchSize)
	n := 0
	for dec.More() {
		if err := dbc.Ctx.Err(); err != nil {
			return n, &LoadError{Kind: KindStoreUnavailable, Err: err}
		}
		var rec rawRecord
		if err := dec.Decode(&rec); err != nil {
			return n, parseFailure(err, "decode record")
		}
		rows, err := translateRecord(n, rec)
		if err != nil {
			return n, &LoadError{Kind: KindParseFailure, Err: err}
		}
		batch = append(batch, rows)
		n++
		if len(batch) == l.cfg.BatchSize {
			if err := l.flush(dbc, batch); err != nil {
				return n, err
			}
			l.log.Debug("Batch flushed", "records", n)
			batch = batch[:0]
		}
	}
	if _, err := dec.Token(); err != nil {
		return n, parseFailure(err, "read dataset end")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return n, &LoadError{Kind: KindParseFailure, Err: crdb.New("unexpected data after dataset array")}
	}
	if err := l.flush(dbc, batch); err != nil {
		return n, err
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return n, &LoadError{Kind: KindStoreUnavailable, Err: crdb.Wrap(err, "drain dataset")}
	}
	return n, nil
}

func (l *Loader) flush(dbc dbctx.Context, batch []*recordRows) error {
	if len(batch) == 0 {
		return nil
	}
	products := make([]*quality.Product, 0, len(batch))
	for _, rows := range batch {
		products = append(products, rows.product)
	}
	if err := l.products.CreateProducts(dbc, products); err != nil {
		return storeFailure(err, "insert products")
	}

	var states []*quality.MachineState
	var defects []*quality.Defect
	for _, rows := range batch {
		if rows.state != nil {
			rows.state.ProductID = rows.product.ID
			states = append(states, rows.state)
		}
		for _, d := range rows.defects {
			d.ProductID = rows.product.ID
			defects = append(defects, d)
		}
	}
	if err := l.products.CreateMachineStates(dbc, states); err != nil {
		return storeFailure(err, "insert machine states")
	}
	if err := l.products.CreateDefects(dbc, defects); err != nil {
		return storeFailure(err, "insert defects")
	}
	return nil
}

type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

func parseFailure(err error, op string) error {
	// Syntax errors carry byte offsets only, never dataset content.
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return &LoadError{Kind: KindParseFailure, Err: crdb.Newf("%s: invalid JSON at offset %d", crdb.Safe(op), crdb.Safe(syn.Offset))}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &LoadError{Kind: KindParseFailure, Err: crdb.Newf("%s: unexpected end of dataset", crdb.Safe(op))}
	}
	return &LoadError{Kind: KindParseFailure, Err: crdb.Wrap(err, op)}
}

func storeFailure(err error, op string) error {
	return &LoadError{Kind: classifyStoreError(err), Err: crdb.Wrap(err, op)}
}
