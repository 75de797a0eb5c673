package testutil

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/moldline-backend/internal/domain/quality"
)

func f64(v float64) *float64 { return &v }

// SeedProduct inserts a product with one rejected defect per defect type
// and, when cycleTime is non-nil, a machine state.
func SeedProduct(tb testing.TB, ctx context.Context, tx *gorm.DB, machineID string, capturedAt time.Time, reject bool, cycleTime *float64, defectTypes ...string) *quality.Product {
	tb.Helper()
	p := &quality.Product{
		SchemaVersion: "1.0",
		CapturedAt:    capturedAt.UTC(),
		MachineID:     machineID,
		OverallReject: reject,
		DefectCount:   len(defectTypes),
	}
	if len(defectTypes) > 0 {
		total := 0.0
		for range defectTypes {
			total += 0.5
		}
		p.TotalSeverityScore = f64(total)
	}
	if err := tx.WithContext(ctx).Omit("MachineState", "Defects").Create(p).Error; err != nil {
		tb.Fatalf("seed product: %v", err)
	}
	if cycleTime != nil {
		ms := &quality.MachineState{ProductID: p.ID, CycleTime: cycleTime}
		if err := tx.WithContext(ctx).Create(ms).Error; err != nil {
			tb.Fatalf("seed machine state: %v", err)
		}
		p.MachineState = ms
	}
	for _, dt := range defectTypes {
		d := quality.Defect{ProductID: p.ID, DefectType: dt, Rejected: true, SeverityValue: f64(0.5)}
		if err := tx.WithContext(ctx).Create(&d).Error; err != nil {
			tb.Fatalf("seed defect: %v", err)
		}
		p.Defects = append(p.Defects, d)
	}
	return p
}
