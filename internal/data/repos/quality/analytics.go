package quality

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	domain "github.com/yungbote/moldline-backend/internal/domain/quality"
	"github.com/yungbote/moldline-backend/internal/platform/dbctx"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

// Filter narrows analytics queries. Zero values mean "no filter".
type Filter struct {
	Start     *time.Time
	End       *time.Time
	MachineID string
}

func (f Filter) apply(q *gorm.DB) *gorm.DB {
	if f.Start != nil {
		q = q.Where("products.captured_at >= ?", f.Start.UTC())
	}
	if f.End != nil {
		q = q.Where("products.captured_at <= ?", f.End.UTC())
	}
	if f.MachineID != "" {
		q = q.Where("products.machine_id = ?", f.MachineID)
	}
	return q
}

type BucketUnit string

const (
	BucketHour BucketUnit = "hour"
	BucketDay  BucketUnit = "day"
	BucketWeek BucketUnit = "week"
)

type RejectBucket struct {
	Start    time.Time
	Total    int64
	Rejected int64
}

type MachineDefectCount struct {
	MachineID  string
	DefectType string
	Count      int64
}

type DefectTypeCount struct {
	DefectType string
	Count      int64
}

type MachineTotals struct {
	MachineID string
	Total     int64
	Rejected  int64
}

type DefectCountBucket struct {
	DefectCount int64
	Products    int64
}

type CycleTimeSample struct {
	ProductID     int64
	CycleTime     *float64
	DefectCount   int64
	OverallReject bool
}

type AnalyticsRepo interface {
	ListMachineIDs(dbc dbctx.Context) ([]string, error)
	RejectBuckets(dbc dbctx.Context, f Filter, unit BucketUnit) ([]RejectBucket, error)
	MachineDefectCounts(dbc dbctx.Context, f Filter) ([]MachineDefectCount, error)
	TopDefectTypes(dbc dbctx.Context, f Filter, limit int) ([]DefectTypeCount, error)
	CountProductsWithDefects(dbc dbctx.Context) (int64, error)
	MachineTotals(dbc dbctx.Context) ([]MachineTotals, error)
	DefectCountHistogram(dbc dbctx.Context, f Filter) ([]DefectCountBucket, error)
	CycleTimeSamples(dbc dbctx.Context, f Filter, limit int) ([]CycleTimeSample, error)
}

type analyticsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalyticsRepo(db *gorm.DB, baseLog *logger.Logger) AnalyticsRepo {
	return &analyticsRepo{
		db:  db,
		log: baseLog.With("repo", "AnalyticsRepo"),
	}
}

func (r *analyticsRepo) ListMachineIDs(dbc dbctx.Context) ([]string, error) {
	var out []string
	err := dbc.DB(r.db).
		Model(&domain.Product{}).
		Where("machine_id <> ''").
		Distinct().
		Order("machine_id ASC").
		Pluck("machine_id", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RejectBuckets counts products and rejects per time bucket, oldest
// first. Buckets are UTC and weeks start on Monday.
func (r *analyticsRepo) RejectBuckets(dbc dbctx.Context, f Filter, unit BucketUnit) ([]RejectBucket, error) {
	tx := dbc.DB(r.db)
	expr, err := bucketExpr(tx.Dialector.Name(), unit)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Bucket   string
		Total    int64
		Rejected int64
	}
	q := tx.Model(&domain.Product{}).
		Select(expr + " AS bucket, COUNT(*) AS total, " +
			"SUM(CASE WHEN products.overall_reject THEN 1 ELSE 0 END) AS rejected")
	if err := f.apply(q).Group("bucket").Order("bucket ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]RejectBucket, 0, len(rows))
	for _, row := range rows {
		at, err := time.ParseInLocation(bucketLayout, row.Bucket, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse %s bucket %q: %w", unit, row.Bucket, err)
		}
		out = append(out, RejectBucket{Start: at, Total: row.Total, Rejected: row.Rejected})
	}
	return out, nil
}

// bucketLayout is the text form both dialects render bucket starts in.
const bucketLayout = "2006-01-02 15:04:05"

func bucketExpr(dialect string, unit BucketUnit) (string, error) {
	switch unit {
	case BucketHour, BucketDay, BucketWeek:
	default:
		return "", fmt.Errorf("unsupported bucket unit %q", unit)
	}
	switch dialect {
	case "postgres":
		// date_trunc weeks are ISO weeks, which start on Monday.
		return fmt.Sprintf("to_char(date_trunc('%s', products.captured_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD HH24:MI:SS')", unit), nil
	case "sqlite":
		switch unit {
		case BucketHour:
			return "strftime('%Y-%m-%d %H:00:00', products.captured_at)", nil
		case BucketDay:
			return "strftime('%Y-%m-%d 00:00:00', products.captured_at)", nil
		default:
			// Forward to Sunday (or stay on it), then back to that week's Monday.
			return "strftime('%Y-%m-%d 00:00:00', products.captured_at, 'weekday 0', '-6 days')", nil
		}
	}
	return "", fmt.Errorf("time buckets are not supported on %s", dialect)
}

func (r *analyticsRepo) MachineDefectCounts(dbc dbctx.Context, f Filter) ([]MachineDefectCount, error) {
	var out []MachineDefectCount
	q := dbc.DB(r.db).
		Table("defects").
		Select("products.machine_id AS machine_id, defects.defect_type AS defect_type, COUNT(defects.id) AS count").
		Joins("JOIN products ON products.id = defects.product_id")
	err := f.apply(q).
		Group("products.machine_id, defects.defect_type").
		Order("products.machine_id ASC, defects.defect_type ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analyticsRepo) TopDefectTypes(dbc dbctx.Context, f Filter, limit int) ([]DefectTypeCount, error) {
	var out []DefectTypeCount
	q := dbc.DB(r.db).
		Table("defects").
		Select("defects.defect_type AS defect_type, COUNT(defects.id) AS count").
		Joins("JOIN products ON products.id = defects.product_id")
	err := f.apply(q).
		Group("defects.defect_type").
		Order("count DESC, defects.defect_type ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analyticsRepo) CountProductsWithDefects(dbc dbctx.Context) (int64, error) {
	var n int64
	err := dbc.DB(r.db).
		Model(&domain.Defect{}).
		Distinct("product_id").
		Count(&n).Error
	return n, err
}

func (r *analyticsRepo) MachineTotals(dbc dbctx.Context) ([]MachineTotals, error) {
	var out []MachineTotals
	err := dbc.DB(r.db).
		Model(&domain.Product{}).
		Select("machine_id, COUNT(id) AS total, SUM(CASE WHEN overall_reject THEN 1 ELSE 0 END) AS rejected").
		Group("machine_id").
		Order("machine_id ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DefectCountHistogram counts products by how many defect rows they own.
func (r *analyticsRepo) DefectCountHistogram(dbc dbctx.Context, f Filter) ([]DefectCountBucket, error) {
	tx := dbc.DB(r.db)
	perProduct := f.apply(
		tx.Model(&domain.Product{}).
			Select("products.id AS id, COUNT(defects.id) AS defect_count").
			Joins("LEFT JOIN defects ON defects.product_id = products.id"),
	).Group("products.id")

	var out []DefectCountBucket
	err := tx.
		Table("(?) AS per_product", perProduct).
		Select("per_product.defect_count AS defect_count, COUNT(per_product.id) AS products").
		Group("per_product.defect_count").
		Order("per_product.defect_count ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CycleTimeSamples returns products that have a machine state with a cycle
// time, paired with their defect row count.
func (r *analyticsRepo) CycleTimeSamples(dbc dbctx.Context, f Filter, limit int) ([]CycleTimeSample, error) {
	var out []CycleTimeSample
	q := dbc.DB(r.db).
		Model(&domain.Product{}).
		Select("products.id AS product_id, machine_states.cycle_time AS cycle_time, COUNT(defects.id) AS defect_count, products.overall_reject AS overall_reject").
		Joins("JOIN machine_states ON machine_states.product_id = products.id").
		Joins("LEFT JOIN defects ON defects.product_id = products.id").
		Where("machine_states.cycle_time IS NOT NULL")
	err := f.apply(q).
		Group("products.id, machine_states.cycle_time, products.overall_reject").
		Order("products.id ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
