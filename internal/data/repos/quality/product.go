package quality

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/yungbote/moldline-backend/internal/domain/quality"
	"github.com/yungbote/moldline-backend/internal/platform/dbctx"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

// Counts is the number of rows in each quality table.
type Counts struct {
	Products      int64 `json:"products"`
	MachineStates int64 `json:"machine_states"`
	Defects       int64 `json:"defects"`
}

type ProductRepo interface {
	// Truncate removes every product; machine states and defects follow
	// through their cascading foreign keys.
	Truncate(dbc dbctx.Context) error
	CreateProducts(dbc dbctx.Context, products []*domain.Product) error
	CreateMachineStates(dbc dbctx.Context, states []*domain.MachineState) error
	CreateDefects(dbc dbctx.Context, defects []*domain.Defect) error
	Counts(dbc dbctx.Context) (Counts, error)
	GetByID(dbc dbctx.Context, id int64) (*domain.Product, error)
	Delete(dbc dbctx.Context, id int64) error
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{
		db:  db,
		log: baseLog.With("repo", "ProductRepo"),
	}
}

func (r *productRepo) Truncate(dbc dbctx.Context) error {
	tx := dbc.DB(r.db)
	if tx.Dialector.Name() == "postgres" {
		return tx.Exec("TRUNCATE TABLE products RESTART IDENTITY CASCADE").Error
	}
	return tx.Exec("DELETE FROM products").Error
}

func (r *productRepo) CreateProducts(dbc dbctx.Context, products []*domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	tx := dbc.DB(r.db)
	return tx.Omit(clause.Associations).CreateInBatches(&products, rowsPerInsert(tx, &domain.Product{})).Error
}

func (r *productRepo) CreateMachineStates(dbc dbctx.Context, states []*domain.MachineState) error {
	if len(states) == 0 {
		return nil
	}
	tx := dbc.DB(r.db)
	return tx.CreateInBatches(&states, rowsPerInsert(tx, &domain.MachineState{})).Error
}

func (r *productRepo) CreateDefects(dbc dbctx.Context, defects []*domain.Defect) error {
	if len(defects) == 0 {
		return nil
	}
	tx := dbc.DB(r.db)
	return tx.CreateInBatches(&defects, rowsPerInsert(tx, &domain.Defect{})).Error
}

// Bind parameter ceilings per statement. SQLite's is the 3.32+ default;
// unknown dialects get the pre-3.32 SQLite value.
var bindLimits = map[string]int{
	"postgres": 65535,
	"sqlite":   32766,
	"mysql":    65535,
}

const fallbackBindLimit = 999

// rowsPerInsert is how many rows of model fit in one multi-row INSERT
// without exceeding the dialect's bind parameter limit. A loader batch can
// span several statements.
func rowsPerInsert(tx *gorm.DB, model interface{}) int {
	limit, ok := bindLimits[tx.Dialector.Name()]
	if !ok {
		limit = fallbackBindLimit
	}
	stmt := &gorm.Statement{DB: tx}
	if err := stmt.Parse(model); err != nil || len(stmt.Schema.DBNames) == 0 {
		return 1
	}
	if n := limit / len(stmt.Schema.DBNames); n > 0 {
		return n
	}
	return 1
}

func (r *productRepo) Counts(dbc dbctx.Context) (Counts, error) {
	tx := dbc.DB(r.db)
	var out Counts
	if err := tx.Model(&domain.Product{}).Count(&out.Products).Error; err != nil {
		return Counts{}, err
	}
	if err := tx.Model(&domain.MachineState{}).Count(&out.MachineStates).Error; err != nil {
		return Counts{}, err
	}
	if err := tx.Model(&domain.Defect{}).Count(&out.Defects).Error; err != nil {
		return Counts{}, err
	}
	return out, nil
}

// GetByID returns nil, nil when the product does not exist.
func (r *productRepo) GetByID(dbc dbctx.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := dbc.DB(r.db).
		Preload("MachineState").
		Preload("Defects", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", id).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) Delete(dbc dbctx.Context, id int64) error {
	return dbc.DB(r.db).Where("id = ?", id).Delete(&domain.Product{}).Error
}
