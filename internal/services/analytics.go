package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	domain "github.com/yungbote/moldline-backend/internal/domain/quality"
	"github.com/yungbote/moldline-backend/internal/data/repos/quality"
	"github.com/yungbote/moldline-backend/internal/platform/dbctx"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

type Interval string

const (
	IntervalHour Interval = "hour"
	IntervalDay  Interval = "day"
	IntervalWeek Interval = "week"
)

func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case "":
		return IntervalDay, nil
	case IntervalHour, IntervalDay, IntervalWeek:
		return Interval(s), nil
	default:
		return "", fmt.Errorf("interval must be hour, day or week")
	}
}

type DefectRatePoint struct {
	Timestamp        time.Time `json:"timestamp"`
	TotalProducts    int64     `json:"total_products"`
	RejectedProducts int64     `json:"rejected_products"`
	DefectRate       float64   `json:"defect_rate"`
}

type DefectRateTrend struct {
	DataPoints []DefectRatePoint `json:"data_points"`
	Summary    struct {
		AvgRate       float64 `json:"avg_rate"`
		MinRate       float64 `json:"min_rate"`
		MaxRate       float64 `json:"max_rate"`
		TotalProducts int64   `json:"total_products"`
	} `json:"summary"`
}

type DefectHeatmap struct {
	Cells         [][3]int64 `json:"cells"`
	MachineLabels []string   `json:"machine_labels"`
	DefectLabels  []string   `json:"defect_labels"`
	Metadata      struct {
		TotalDefects      int64 `json:"total_defects"`
		MaxDefectsPerCell int64 `json:"max_defects_per_cell"`
		MachineCount      int   `json:"machine_count"`
		DefectTypeCount   int   `json:"defect_type_count"`
	} `json:"metadata"`
}

type TopDefect struct {
	DefectType string  `json:"defect_type"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

type TopDefects struct {
	Defects []TopDefect `json:"defects"`
	Summary struct {
		TotalDefects     int64  `json:"total_defects"`
		MostCommon       string `json:"most_common"`
		AffectedProducts int64  `json:"affected_products"`
	} `json:"summary"`
}

type MachineComparison struct {
	MachineID  string  `json:"machine_id"`
	Total      int64   `json:"total"`
	Rejected   int64   `json:"rejected"`
	Accepted   int64   `json:"accepted"`
	DefectRate float64 `json:"defect_rate"`
}

type DistributionBucket struct {
	// DefectCount is "0".."4" or "5+".
	DefectCount  string  `json:"defect_count"`
	ProductCount int64   `json:"product_count"`
	Percentage   float64 `json:"percentage"`
}

type DefectDistribution struct {
	Distribution []DistributionBucket `json:"distribution"`
	Summary      struct {
		TotalProducts int64   `json:"total_products"`
		ZeroDefects   int64   `json:"zero_defects"`
		PerfectRate   float64 `json:"perfect_rate"`
	} `json:"summary"`
}

type ScatterPoint struct {
	CycleTime   float64 `json:"cycle_time"`
	DefectCount int64   `json:"defect_count"`
	ProductID   int64   `json:"product_id"`
	IsRejected  bool    `json:"is_rejected"`
}

type CycleTimeScatter struct {
	Points []ScatterPoint `json:"points"`
	Stats  struct {
		AverageCycleTime   float64 `json:"average_cycle_time"`
		AverageDefectCount float64 `json:"average_defect_count"`
		Correlation        float64 `json:"correlation"`
		SampleSize         int     `json:"sample_size"`
		AcceptedCount      int     `json:"accepted_count"`
		RejectedCount      int     `json:"rejected_count"`
	} `json:"stats"`
}

type ProductDefects struct {
	Product struct {
		ID            int64     `json:"id"`
		Timestamp     time.Time `json:"timestamp"`
		MachineID     string    `json:"machine_id"`
		OverallReject bool      `json:"overall_reject"`
		DefectCount   int       `json:"defect_count"`
	} `json:"product"`
	Defects []ProductDefect `json:"defects"`
	// MachineState is nil when the product has no telemetry row.
	MachineState *ProductMachineState `json:"machine_state"`
}

type ProductDefect struct {
	DefectType string   `json:"defect_type"`
	Severity   *float64 `json:"severity"`
	Reject     bool     `json:"reject"`
}

type ProductMachineState struct {
	CycleTime *float64 `json:"cycle_time"`
	ShotCount *int64   `json:"shot_count"`
}

type AnalyticsService interface {
	Machines(ctx context.Context) ([]string, error)
	DefectRateTrend(ctx context.Context, f quality.Filter, interval Interval) (*DefectRateTrend, error)
	MachineDefectHeatmap(ctx context.Context, f quality.Filter) (*DefectHeatmap, error)
	TopDefects(ctx context.Context, f quality.Filter, limit int) (*TopDefects, error)
	MachineComparison(ctx context.Context) ([]MachineComparison, error)
	DefectDistribution(ctx context.Context, f quality.Filter) (*DefectDistribution, error)
	CycleTimeScatter(ctx context.Context, f quality.Filter, limit int) (*CycleTimeScatter, error)
	// ProductDefects returns nil, nil for an unknown product.
	ProductDefects(ctx context.Context, productID int64) (*ProductDefects, error)
}

type analyticsService struct {
	log       *logger.Logger
	analytics quality.AnalyticsRepo
	products  quality.ProductRepo
}

func NewAnalyticsService(baseLog *logger.Logger, analytics quality.AnalyticsRepo, products quality.ProductRepo) AnalyticsService {
	return &analyticsService{
		log:       baseLog.With("service", "AnalyticsService"),
		analytics: analytics,
		products:  products,
	}
}

func (s *analyticsService) dbc(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx}
}

func (s *analyticsService) Machines(ctx context.Context) ([]string, error) {
	ids, err := s.analytics.ListMachineIDs(s.dbc(ctx))
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *analyticsService) DefectRateTrend(ctx context.Context, f quality.Filter, interval Interval) (*DefectRateTrend, error) {
	buckets, err := s.analytics.RejectBuckets(s.dbc(ctx), f, quality.BucketUnit(interval))
	if err != nil {
		return nil, err
	}
	out := &DefectRateTrend{DataPoints: make([]DefectRatePoint, 0, len(buckets))}
	for _, b := range buckets {
		out.DataPoints = append(out.DataPoints, DefectRatePoint{
			Timestamp:        b.Start,
			TotalProducts:    b.Total,
			RejectedProducts: b.Rejected,
		})
	}

	var sum float64
	for i := range out.DataPoints {
		p := &out.DataPoints[i]
		p.DefectRate = round(ratio(p.RejectedProducts, p.TotalProducts), 4)
		sum += p.DefectRate
		out.Summary.TotalProducts += p.TotalProducts
		if i == 0 || p.DefectRate < out.Summary.MinRate {
			out.Summary.MinRate = p.DefectRate
		}
		if i == 0 || p.DefectRate > out.Summary.MaxRate {
			out.Summary.MaxRate = p.DefectRate
		}
	}
	if n := len(out.DataPoints); n > 0 {
		out.Summary.AvgRate = round(sum/float64(n), 4)
	}
	return out, nil
}

func (s *analyticsService) MachineDefectHeatmap(ctx context.Context, f quality.Filter) (*DefectHeatmap, error) {
	rows, err := s.analytics.MachineDefectCounts(s.dbc(ctx), f)
	if err != nil {
		return nil, err
	}
	out := &DefectHeatmap{Cells: [][3]int64{}, MachineLabels: []string{}, DefectLabels: []string{}}
	machines := map[string]int{}
	defects := map[string]int{}
	for _, r := range rows {
		machines[r.MachineID] = 0
		defects[r.DefectType] = 0
	}
	out.MachineLabels = sortedKeys(machines)
	out.DefectLabels = sortedKeys(defects)
	for i, m := range out.MachineLabels {
		machines[m] = i
	}
	for i, d := range out.DefectLabels {
		defects[d] = i
	}
	for _, r := range rows {
		out.Cells = append(out.Cells, [3]int64{int64(machines[r.MachineID]), int64(defects[r.DefectType]), r.Count})
		out.Metadata.TotalDefects += r.Count
		if r.Count > out.Metadata.MaxDefectsPerCell {
			out.Metadata.MaxDefectsPerCell = r.Count
		}
	}
	out.Metadata.MachineCount = len(out.MachineLabels)
	out.Metadata.DefectTypeCount = len(out.DefectLabels)
	return out, nil
}

func (s *analyticsService) TopDefects(ctx context.Context, f quality.Filter, limit int) (*TopDefects, error) {
	rows, err := s.analytics.TopDefectTypes(s.dbc(ctx), f, limit)
	if err != nil {
		return nil, err
	}
	affected, err := s.analytics.CountProductsWithDefects(s.dbc(ctx))
	if err != nil {
		return nil, err
	}
	out := &TopDefects{Defects: make([]TopDefect, 0, len(rows))}
	for _, r := range rows {
		out.Summary.TotalDefects += r.Count
	}
	for _, r := range rows {
		out.Defects = append(out.Defects, TopDefect{
			DefectType: r.DefectType,
			Count:      r.Count,
			Percentage: ratio(r.Count, out.Summary.TotalDefects) * 100,
		})
	}
	out.Summary.MostCommon = "N/A"
	if len(out.Defects) > 0 {
		out.Summary.MostCommon = out.Defects[0].DefectType
	}
	out.Summary.AffectedProducts = affected
	return out, nil
}

func (s *analyticsService) MachineComparison(ctx context.Context) ([]MachineComparison, error) {
	rows, err := s.analytics.MachineTotals(s.dbc(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]MachineComparison, 0, len(rows))
	for _, r := range rows {
		out = append(out, MachineComparison{
			MachineID:  r.MachineID,
			Total:      r.Total,
			Rejected:   r.Rejected,
			Accepted:   r.Total - r.Rejected,
			DefectRate: ratio(r.Rejected, r.Total),
		})
	}
	return out, nil
}

const distributionOverflow = 5

func (s *analyticsService) DefectDistribution(ctx context.Context, f quality.Filter) (*DefectDistribution, error) {
	rows, err := s.analytics.DefectCountHistogram(s.dbc(ctx), f)
	if err != nil {
		return nil, err
	}
	counts := make([]int64, distributionOverflow+1)
	var total int64
	for _, r := range rows {
		idx := r.DefectCount
		if idx >= distributionOverflow {
			idx = distributionOverflow
		}
		if idx < 0 {
			continue
		}
		counts[idx] += r.Products
		total += r.Products
	}
	out := &DefectDistribution{Distribution: make([]DistributionBucket, 0, len(counts))}
	for i, c := range counts {
		label := fmt.Sprintf("%d", i)
		if i == distributionOverflow {
			label = fmt.Sprintf("%d+", distributionOverflow)
		}
		out.Distribution = append(out.Distribution, DistributionBucket{
			DefectCount:  label,
			ProductCount: c,
			Percentage:   ratio(c, total) * 100,
		})
	}
	out.Summary.TotalProducts = total
	out.Summary.ZeroDefects = counts[0]
	out.Summary.PerfectRate = ratio(counts[0], total) * 100
	return out, nil
}

func (s *analyticsService) CycleTimeScatter(ctx context.Context, f quality.Filter, limit int) (*CycleTimeScatter, error) {
	rows, err := s.analytics.CycleTimeSamples(s.dbc(ctx), f, limit)
	if err != nil {
		return nil, err
	}
	out := &CycleTimeScatter{Points: make([]ScatterPoint, 0, len(rows))}
	for _, r := range rows {
		if r.CycleTime == nil {
			continue
		}
		out.Points = append(out.Points, ScatterPoint{
			CycleTime:   *r.CycleTime,
			DefectCount: r.DefectCount,
			ProductID:   r.ProductID,
			IsRejected:  r.OverallReject,
		})
	}
	out.Stats.SampleSize = len(out.Points)
	if len(out.Points) < 2 {
		return out, nil
	}

	xs := make([]float64, len(out.Points))
	ys := make([]float64, len(out.Points))
	for i, p := range out.Points {
		xs[i], ys[i] = p.CycleTime, float64(p.DefectCount)
		if p.IsRejected {
			out.Stats.RejectedCount++
		} else {
			out.Stats.AcceptedCount++
		}
	}
	out.Stats.AverageCycleTime = round(mean(xs), 2)
	out.Stats.AverageDefectCount = round(mean(ys), 2)
	out.Stats.Correlation = round(pearson(xs, ys), 3)
	return out, nil
}

func (s *analyticsService) ProductDefects(ctx context.Context, productID int64) (*ProductDefects, error) {
	p, err := s.products.GetByID(s.dbc(ctx), productID)
	if err != nil || p == nil {
		return nil, err
	}
	out := &ProductDefects{Defects: make([]ProductDefect, 0, len(p.Defects))}
	out.Product.ID = p.ID
	out.Product.Timestamp = p.CapturedAt
	out.Product.MachineID = p.MachineID
	out.Product.OverallReject = p.OverallReject
	out.Product.DefectCount = len(p.Defects)
	for _, d := range p.Defects {
		out.Defects = append(out.Defects, toProductDefect(d))
	}
	if p.MachineState != nil {
		out.MachineState = &ProductMachineState{CycleTime: p.MachineState.CycleTime, ShotCount: p.MachineState.ShotCount}
	}
	return out, nil
}

func toProductDefect(d domain.Defect) ProductDefect {
	return ProductDefect{DefectType: d.DefectType, Severity: d.SeverityValue, Reject: d.Rejected}
}

func ratio(n, d int64) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// pearson is 0 when either series is constant.
func pearson(xs, ys []float64) float64 {
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
