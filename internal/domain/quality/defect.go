package quality

// DefectTypes are the object-detection keys that can produce a Defect row,
// in the order they are evaluated per record.
var DefectTypes = []string{
	"discoloration_defect",
	"discoloration_patch_defect",
	"flash_defect",
	"short_defect",
	"contamination_defect",
	"splay_defect",
	"burn_mark_defect",
	"jetting_defect",
	"flow_mark_defect",
	"sink_mark_defect",
	"knit_line_defect",
	"void_defect",
	"ejector_pin_mark_defect",
}

// Defect is one defect type that fired on a product.
type Defect struct {
	ID                int64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID         int64    `gorm:"column:product_id;not null;index;index:idx_defects_product_type,priority:1" json:"product_id"`
	DefectType        string   `gorm:"column:defect_type;size:50;not null;index;index:idx_defects_type_rejected,priority:1;index:idx_defects_product_type,priority:2" json:"defect_type"`
	Rejected          bool     `gorm:"column:rejected;not null;default:false;index;index:idx_defects_type_rejected,priority:2" json:"reject"`
	SeverityValue     *float64 `gorm:"column:severity_value;index:idx_defects_severity" json:"severity_value,omitempty"`
	SeverityReject    *bool    `gorm:"column:severity_reject" json:"severity_reject,omitempty"`
	SeverityThreshold *float64 `gorm:"column:severity_threshold" json:"threshold,omitempty"`
	SeverityMin       *float64 `gorm:"column:severity_min" json:"min_value,omitempty"`
	SeverityMax       *float64 `gorm:"column:severity_max" json:"max_value,omitempty"`
}

func (Defect) TableName() string { return "defects" }
