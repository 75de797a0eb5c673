package quality

import (
	"time"
)

// Product is one inspected injection-molded part.
type Product struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SchemaVersion      string    `gorm:"column:version;size:10;not null;index" json:"version"`
	CapturedAt         time.Time `gorm:"column:captured_at;not null;index;index:idx_products_machine_captured,priority:2;index:idx_products_reject_captured,priority:2" json:"timestamp"`
	MachineID          string    `gorm:"column:machine_id;size:50;not null;index;index:idx_products_machine_captured,priority:1" json:"molding_machine_id"`
	OverallReject      bool      `gorm:"column:overall_reject;not null;default:false;index;index:idx_products_reject_captured,priority:1" json:"overall_reject"`
	DefectCount        int       `gorm:"column:defect_count;not null;default:0" json:"defect_count"`
	TotalSeverityScore *float64  `gorm:"column:total_severity_score" json:"total_severity_score,omitempty"`
	CreatedAt          time.Time `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`

	MachineState *MachineState `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"machine_state,omitempty"`
	Defects      []Defect      `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"defects,omitempty"`
}

func (Product) TableName() string { return "products" }
