package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"testing"

	"gorm.io/gorm"

	repos "github.com/yungbote/moldline-backend/internal/data/repos/quality"
	"github.com/yungbote/moldline-backend/internal/data/repos/testutil"
	"github.com/yungbote/moldline-backend/internal/domain/quality"
	"github.com/yungbote/moldline-backend/internal/platform/dbctx"
)

// failingRepo fails the nth CreateDefects call.
type failingRepo struct {
	repos.ProductRepo
	failOn int
	calls  int
}

func (f *failingRepo) CreateDefects(dbc dbctx.Context, defects []*quality.Defect) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("injected defect insert failure")
	}
	return f.ProductRepo.CreateDefects(dbc, defects)
}

type countingLocker struct {
	acquired int
	released int
}

func (c *countingLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	c.acquired++
	return func(context.Context) error {
		c.released++
		return nil
	}, nil
}

func newTestLoader(t *testing.T, db *gorm.DB, batch int) *Loader {
	t.Helper()
	return NewLoader(testutil.Logger(t), LoaderDeps{DB: db}, LoaderConfig{BatchSize: batch}, nil)
}

func loadInput(h DatasetHandle) LoadInput {
	return LoadInput{DatasetHandle: h, ObjectKey: ObjectKey(h.Digest)}
}

func tableCounts(t *testing.T, db *gorm.DB) repos.Counts {
	t.Helper()
	counts, err := repos.NewProductRepo(db, testutil.Logger(t)).Counts(dbctx.Context{Ctx: context.Background()})
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	return counts
}

func machineIDs(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var ids []string
	if err := db.Model(&quality.Product{}).Order("id").Pluck("machine_id", &ids).Error; err != nil {
		t.Fatalf("pluck machine ids: %v", err)
	}
	return ids
}

func TestLoadEndToEndExample(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLoader(t, db, DefaultLoadBatchSize)

	stats, err := l.Load(context.Background(), loadInput(handleFor(t, e2eDataset)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats != (LoadStats{Products: 1, MachineStates: 1, Defects: 1}) {
		t.Fatalf("stats: got=%+v", stats)
	}

	var products []quality.Product
	if err := db.Preload("MachineState").Preload("Defects").Find(&products).Error; err != nil {
		t.Fatalf("find products: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("products: want=1 got=%d", len(products))
	}
	p := products[0]
	if !p.OverallReject || p.DefectCount != 1 || p.MachineID != "m1" {
		t.Fatalf("product: got=%+v", p)
	}
	if p.MachineState == nil || p.MachineState.CycleTime == nil || *p.MachineState.CycleTime != 25.5 {
		t.Fatalf("machine state: got=%+v", p.MachineState)
	}
	if len(p.Defects) != 1 {
		t.Fatalf("defects: want=1 got=%d", len(p.Defects))
	}
	d := p.Defects[0]
	if d.DefectType != "flash_defect" || !d.Rejected || d.SeverityValue == nil || *d.SeverityValue != 0.8 {
		t.Fatalf("defect: got=%+v", d)
	}
}

func TestLoadReplacesPreviousDataset(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLoader(t, db, 2)

	if _, err := l.Load(context.Background(), loadInput(handleFor(t, buildDataset(5, 2)))); err != nil {
		t.Fatalf("Load first: %v", err)
	}
	stats, err := l.Load(context.Background(), loadInput(handleFor(t, e2eDataset)))
	if err != nil {
		t.Fatalf("Load second: %v", err)
	}
	if stats != (LoadStats{Products: 1, MachineStates: 1, Defects: 1}) {
		t.Fatalf("stats: got=%+v", stats)
	}
	if got := tableCounts(t, db); got != (repos.Counts{Products: 1, MachineStates: 1, Defects: 1}) {
		t.Fatalf("counts after replace: got=%+v", got)
	}
}

func TestLoadBatchBoundaries(t *testing.T) {
	// 5 records with batch size 2 flush 2+2+1; 4 records flush 2+2 and
	// an empty tail.
	for _, n := range []int{4, 5, 1} {
		db := testutil.DB(t)
		l := newTestLoader(t, db, 2)
		stats, err := l.Load(context.Background(), loadInput(handleFor(t, buildDataset(n, 3))))
		if err != nil {
			t.Fatalf("Load(%d): %v", n, err)
		}
		wantDefects := int64(2 * ((n + 2) / 3))
		if stats.Products != int64(n) || stats.MachineStates != int64(n) || stats.Defects != wantDefects {
			t.Fatalf("n=%d stats: got=%+v want defects=%d", n, stats, wantDefects)
		}
	}
}

func TestLoadDefectCountConsistency(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLoader(t, db, 4)
	if _, err := l.Load(context.Background(), loadInput(handleFor(t, buildDataset(25, 4)))); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var mismatched int64
	err := db.Raw(`SELECT COUNT(*) FROM products p
		WHERE p.defect_count <> (SELECT COUNT(*) FROM defects d WHERE d.product_id = p.id AND d.rejected = ?)`, true).
		Scan(&mismatched).Error
	if err != nil {
		t.Fatalf("consistency query: %v", err)
	}
	if mismatched != 0 {
		t.Fatalf("%d products have a defect_count that disagrees with their defect rows", mismatched)
	}

	var nonRejected int64
	if err := db.Model(&quality.Defect{}).Where("rejected = ?", false).Count(&nonRejected).Error; err != nil {
		t.Fatalf("count non-rejected: %v", err)
	}
	if nonRejected != 0 {
		t.Fatalf("non-firing defect types must not produce rows, found %d", nonRejected)
	}
}

func TestLoadFaultInjectionKeepsPreviousDataset(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()

	if _, err := newTestLoader(t, db, 2).Load(ctx, loadInput(handleFor(t, buildDataset(5, 2)))); err != nil {
		t.Fatalf("Load baseline: %v", err)
	}
	before := tableCounts(t, db)
	beforeIDs := machineIDs(t, db)

	repo := &failingRepo{ProductRepo: repos.NewProductRepo(db, testutil.Logger(t)), failOn: 2}
	l := NewLoader(testutil.Logger(t), LoaderDeps{DB: db, Products: repo}, LoaderConfig{BatchSize: 2}, nil)
	_, err := l.Load(ctx, loadInput(handleFor(t, buildDataset(7, 3))))
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if le.Kind != KindStoreUnavailable {
		t.Fatalf("kind: want=%q got=%q", KindStoreUnavailable, le.Kind)
	}
	if repo.calls != 2 {
		t.Fatalf("the fault should fire inside the second batch, calls=%d", repo.calls)
	}

	if after := tableCounts(t, db); after != before {
		t.Fatalf("counts after failed load: want=%+v got=%+v", before, after)
	}
	afterIDs := machineIDs(t, db)
	sort.Strings(beforeIDs)
	sort.Strings(afterIDs)
	if len(afterIDs) != len(beforeIDs) {
		t.Fatalf("machine ids: want=%v got=%v", beforeIDs, afterIDs)
	}
	for i := range beforeIDs {
		if beforeIDs[i] != afterIDs[i] {
			t.Fatalf("machine ids: want=%v got=%v", beforeIDs, afterIDs)
		}
	}
}

func TestLoadParseFailuresRollBack(t *testing.T) {
	cases := map[string]string{
		"truncated":      `[{"version":"1.0","timestamp":1,`,
		"not an array":   `{"version":"1.0"}`,
		"trailing data":  `[] []`,
		"invalid record": `[{"version":"1.0","timestamp":1,"molding_machine_id":"m1"},{"version":"1.0","timestamp":1}]`,
		"scalar element": `[1]`,
		"empty":          ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			db := testutil.DB(t)
			l := newTestLoader(t, db, 1)
			if _, err := l.Load(context.Background(), loadInput(handleFor(t, e2eDataset))); err != nil {
				t.Fatalf("Load baseline: %v", err)
			}

			_, err := l.Load(context.Background(), loadInput(handleFor(t, body)))
			var le *LoadError
			if !errors.As(err, &le) || le.Kind != KindParseFailure {
				t.Fatalf("want LoadError.ParseFailure, got %v", err)
			}
			if le.Retryable() {
				t.Fatalf("parse failures must not be retryable")
			}
			if got := tableCounts(t, db); got != (repos.Counts{Products: 1, MachineStates: 1, Defects: 1}) {
				t.Fatalf("previous dataset should survive, counts=%+v", got)
			}
		})
	}
}

func TestLoadDigestMismatch(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLoader(t, db, 10)
	if _, err := l.Load(context.Background(), loadInput(handleFor(t, buildDataset(3, 1)))); err != nil {
		t.Fatalf("Load baseline: %v", err)
	}

	h := handleFor(t, e2eDataset)
	h.Digest = digestOf([]byte("something else"))
	_, err := l.Load(context.Background(), loadInput(h))
	var le *LoadError
	if !errors.As(err, &le) || le.Kind != KindDigestMismatch {
		t.Fatalf("want LoadError.DigestMismatch, got %v", err)
	}
	if got := tableCounts(t, db); got.Products != 3 {
		t.Fatalf("previous dataset should survive, counts=%+v", got)
	}
}

func TestLoadReadsArchiveWhenScratchIsGone(t *testing.T) {
	db := testutil.DB(t)
	store := newMemStore()
	h := handleFor(t, e2eDataset)
	archived, err := NewArchiver(nil, store, nil).Archive(context.Background(), h)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := os.Remove(h.StorageRef); err != nil {
		t.Fatalf("remove scratch: %v", err)
	}

	l := NewLoader(testutil.Logger(t), LoaderDeps{DB: db, Store: store}, LoaderConfig{}, nil)
	stats, err := l.Load(context.Background(), archived)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats.Products != 1 || stats.Defects != 1 {
		t.Fatalf("stats: got=%+v", stats)
	}
}

func TestLoadMissingInput(t *testing.T) {
	db := testutil.DB(t)
	h := handleFor(t, e2eDataset)
	if err := os.Remove(h.StorageRef); err != nil {
		t.Fatalf("remove: %v", err)
	}

	cases := map[string]*Loader{
		"no store":         newTestLoader(t, db, 10),
		"not in the store": NewLoader(testutil.Logger(t), LoaderDeps{DB: db, Store: newMemStore()}, LoaderConfig{}, nil),
	}
	for name, l := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.Load(context.Background(), loadInput(h))
			var le *LoadError
			if !errors.As(err, &le) || le.Kind != KindMissingInput {
				t.Fatalf("want LoadError.MissingInput, got %v", err)
			}
		})
	}

	_, err := newTestLoader(t, db, 10).Load(context.Background(), LoadInput{})
	var le *LoadError
	if !errors.As(err, &le) || le.Kind != KindMissingInput {
		t.Fatalf("empty input: want LoadError.MissingInput, got %v", err)
	}
}

func TestLoadHoldsLockAroundTransaction(t *testing.T) {
	db := testutil.DB(t)
	lock := &countingLocker{}
	l := NewLoader(testutil.Logger(t), LoaderDeps{DB: db, Locker: lock}, LoaderConfig{}, nil)

	if _, err := l.Load(context.Background(), loadInput(handleFor(t, e2eDataset))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := l.Load(context.Background(), loadInput(handleFor(t, `not json`))); err == nil {
		t.Fatalf("expected a parse failure")
	}
	if lock.acquired != 2 || lock.released != 2 {
		t.Fatalf("lock: acquired=%d released=%d", lock.acquired, lock.released)
	}
}

func TestLoadStoresUnknownTelemetryAsExtra(t *testing.T) {
	db := testutil.DB(t)
	body := `[{"version":"1.0","timestamp":1700000000,"molding_machine_id":"m9","object_detection":{"reject":false},
		"molding-machine-state":{"CycleTime":19.5,"NewSensor":3.25}}]`
	if _, err := newTestLoader(t, db, 10).Load(context.Background(), loadInput(handleFor(t, body))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	var ms quality.MachineState
	if err := db.First(&ms).Error; err != nil {
		t.Fatalf("first machine state: %v", err)
	}
	if ms.CycleTime == nil || *ms.CycleTime != 19.5 {
		t.Fatalf("cycle_time: got=%v", ms.CycleTime)
	}
	var extra map[string]float64
	if err := json.Unmarshal(ms.Extra, &extra); err != nil {
		t.Fatalf("extra: %v", err)
	}
	if len(extra) != 1 || extra["NewSensor"] != 3.25 {
		t.Fatalf("extra: got=%s", ms.Extra)
	}
}

func TestLoadSeveralDefaultBatchesWithEveryDefect(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLoader(t, db, DefaultLoadBatchSize)

	const n = 2*DefaultLoadBatchSize + 37
	stats, err := l.Load(context.Background(), loadInput(handleFor(t, buildFullDataset(n))))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	perRecord := int64(len(quality.DefectTypes))
	want := LoadStats{Products: n, MachineStates: n, Defects: n * perRecord}
	if stats != want {
		t.Fatalf("stats: want=%+v got=%+v", want, stats)
	}
	if got := tableCounts(t, db); got != (repos.Counts{Products: n, MachineStates: n, Defects: n * perRecord}) {
		t.Fatalf("counts: got=%+v", got)
	}
}
