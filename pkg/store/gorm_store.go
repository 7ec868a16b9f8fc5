package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"fablepress/pkg/domain"
)

const migrateLockID int64 = 84218421

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ProjectModel{}, &UnitModel{}, &OrderModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM unit_models u
				WHERE NOT EXISTS (SELECT 1 FROM project_models p WHERE p.id = u.project_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'unit_models'
					AND constraint_name = 'unit_models_project_id_fkey'
				) THEN
					ALTER TABLE unit_models
					ADD CONSTRAINT unit_models_project_id_fkey
					FOREIGN KEY (project_id) REFERENCES project_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure unit foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveProject stores or updates a project.
func (s *GormStore) SaveProject(p domain.Project) error {
	model := projectToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_id", "type", "title", "status", "vendor_sku", "story_plan",
			"character_ref_key", "completed_units", "total_units", "error_message", "updated_at",
		}),
	}).Create(&model).Error
}

// GetProject retrieves a project.
func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// ListProjectsByOwner returns projects filtered by owner.
func (s *GormStore) ListProjectsByOwner(ownerID string) ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		res = append(res, projectFromModel(m))
	}
	return res, nil
}

// SetProjectStatus updates project status/error.
func (s *GormStore) SetProjectStatus(id string, status domain.ProjectStatus, errMsg string) error {
	return s.db.Model(&ProjectModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetProjectProgress updates the generation progress marker.
func (s *GormStore) SetProjectProgress(id string, completed, total int) error {
	return s.db.Model(&ProjectModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"completed_units": completed,
			"total_units":     total,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// SetProjectArtifacts records reconciled print-ready outputs.
func (s *GormStore) SetProjectArtifacts(id string, a ProjectArtifacts) error {
	return s.db.Model(&ProjectModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"interior_key":          a.InteriorKey,
			"cover_key":             a.CoverKey,
			"reconciled_page_count": a.ReconciledPageCount,
			"page_padded":           a.PagePadded,
			"page_fallback":         a.PageFallback,
			"updated_at":            time.Now().UTC(),
		}).Error
}

// DeleteProject removes a project; units go with it via the FK cascade.
func (s *GormStore) DeleteProject(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&UnitModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ProjectModel{}, "id = ?", id).Error
	})
}

// UpsertUnit inserts or replaces the unit at (project_id, seq).
func (s *GormStore) UpsertUnit(u domain.Unit) error {
	model := unitToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "seq"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "image_key", "plan_json", "updated_at"}),
	}).Create(&model).Error
}

// GetUnit returns one unit by project and sequence.
func (s *GormStore) GetUnit(projectID string, seq int) (domain.Unit, bool, error) {
	var model UnitModel
	if err := s.db.First(&model, "project_id = ? AND seq = ?", projectID, seq).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Unit{}, false, nil
		}
		return domain.Unit{}, false, err
	}
	return unitFromModel(model), true, nil
}

// ListUnits returns a project's units in sequence order.
func (s *GormStore) ListUnits(projectID string) ([]domain.Unit, error) {
	var models []UnitModel
	if err := s.db.Where("project_id = ?", projectID).Order("seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Unit, 0, len(models))
	for _, m := range models {
		res = append(res, unitFromModel(m))
	}
	return res, nil
}

// CompleteFanOutUnit increments the progress counter under a row lock and
// returns the updated counters. A retried child may report completion more
// than once; the counter saturates at total.
func (s *GormStore) CompleteFanOutUnit(projectID string) (int, int, error) {
	var completed, total int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model ProjectModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", projectID).Error; err != nil {
			return err
		}
		if model.CompletedUnits < model.TotalUnits {
			model.CompletedUnits++
		}
		model.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&ProjectModel{}).Where("id = ?", projectID).
			Updates(map[string]any{
				"completed_units": model.CompletedUnits,
				"updated_at":      model.UpdatedAt,
			}).Error; err != nil {
			return err
		}
		completed, total = model.CompletedUnits, model.TotalUnits
		return nil
	})
	return completed, total, err
}

// CreateOrder inserts a new order row.
func (s *GormStore) CreateOrder(o domain.Order) error {
	model := orderToModel(o)
	return s.db.Create(&model).Error
}

// GetOrder retrieves an order.
func (s *GormStore) GetOrder(id string) (domain.Order, bool, error) {
	var model OrderModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	return orderFromModel(model), true, nil
}

// ListOrdersByProject returns all orders for a project, newest first.
func (s *GormStore) ListOrdersByProject(projectID string) ([]domain.Order, error) {
	var models []OrderModel
	if err := s.db.Where("project_id = ?", projectID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Order, 0, len(models))
	for _, m := range models {
		res = append(res, orderFromModel(m))
	}
	return res, nil
}

// SetOrderSession stores the payment session reference.
func (s *GormStore) SetOrderSession(id, sessionID string) error {
	return s.db.Model(&OrderModel{}).Where("id = ?", id).
		Updates(map[string]any{
			"payment_session_id": sessionID,
			"updated_at":         time.Now().UTC(),
		}).Error
}

// SetOrderFailed marks an order failed with a recorded reason.
func (s *GormStore) SetOrderFailed(id, errMsg string) error {
	return s.db.Model(&OrderModel{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(domain.OrderFailed),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// WithPendingOrder claims the order row under FOR UPDATE if it is still
// pending and persists fn's mutations in the same transaction. A replayed
// payment event finds the row already transitioned and is a no-op.
func (s *GormStore) WithPendingOrder(id string, fn func(*domain.Order) error) (bool, error) {
	claimed := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if model.Status != string(domain.OrderPending) {
			return nil
		}
		claimed = true
		order := orderFromModel(model)
		if err := fn(&order); err != nil {
			return err
		}
		order.UpdatedAt = time.Now().UTC()
		updated := orderToModel(order)
		return tx.Model(&OrderModel{}).Where("id = ?", id).
			Select("*").Omit("id", "created_at").Updates(&updated).Error
	})
	return claimed, err
}

func projectToModel(p domain.Project) ProjectModel {
	return ProjectModel{
		ID:                  p.ID,
		OwnerID:             p.OwnerID,
		Type:                string(p.Type),
		Title:               p.Title,
		Status:              string(p.Status),
		VendorSKU:           p.VendorSKU,
		StoryPlan:           p.StoryPlan,
		CharacterRefKey:     p.CharacterRefKey,
		CompletedUnits:      p.CompletedUnits,
		TotalUnits:          p.TotalUnits,
		InteriorKey:         p.InteriorKey,
		CoverKey:            p.CoverKey,
		ReconciledPageCount: p.ReconciledPageCount,
		PagePadded:          p.PagePadded,
		PageFallback:        p.PageFallback,
		ErrorMessage:        p.ErrorMessage,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func projectFromModel(m ProjectModel) domain.Project {
	return domain.Project{
		ID:                  m.ID,
		OwnerID:             m.OwnerID,
		Type:                domain.ProjectType(m.Type),
		Title:               m.Title,
		Status:              domain.ProjectStatus(m.Status),
		VendorSKU:           m.VendorSKU,
		StoryPlan:           m.StoryPlan,
		CharacterRefKey:     m.CharacterRefKey,
		CompletedUnits:      m.CompletedUnits,
		TotalUnits:          m.TotalUnits,
		InteriorKey:         m.InteriorKey,
		CoverKey:            m.CoverKey,
		ReconciledPageCount: m.ReconciledPageCount,
		PagePadded:          m.PagePadded,
		PageFallback:        m.PageFallback,
		ErrorMessage:        m.ErrorMessage,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func unitToModel(u domain.Unit) UnitModel {
	return UnitModel{
		ID:        u.ID,
		ProjectID: u.ProjectID,
		Seq:       u.Seq,
		Content:   u.Content,
		ImageKey:  u.ImageKey,
		PlanJSON:  u.PlanJSON,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func unitFromModel(m UnitModel) domain.Unit {
	return domain.Unit{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		Seq:       m.Seq,
		Content:   m.Content,
		ImageKey:  m.ImageKey,
		PlanJSON:  m.PlanJSON,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func orderToModel(o domain.Order) OrderModel {
	var addr []byte
	if o.ShippingAddress != nil {
		addr, _ = json.Marshal(o.ShippingAddress)
	}
	return OrderModel{
		ID:               o.ID,
		ProjectID:        o.ProjectID,
		OwnerID:          o.OwnerID,
		Status:           string(o.Status),
		PrintCostCents:   o.PrintCostCents,
		ShippingCents:    o.ShippingCents,
		MarginCents:      o.MarginCents,
		TotalCents:       o.TotalCents,
		Currency:         o.Currency,
		InteriorURL:      o.InteriorURL,
		CoverURL:         o.CoverURL,
		ActualPageCount:  o.ActualPageCount,
		PaymentSessionID: o.PaymentSessionID,
		VendorJobID:      o.VendorJobID,
		VendorJobStatus:  o.VendorJobStatus,
		ShippingAddress:  addr,
		ErrorMessage:     o.ErrorMessage,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func orderFromModel(m OrderModel) domain.Order {
	var addr *domain.Address
	if len(m.ShippingAddress) > 0 {
		var a domain.Address
		if err := json.Unmarshal(m.ShippingAddress, &a); err == nil {
			addr = &a
		}
	}
	return domain.Order{
		ID:               m.ID,
		ProjectID:        m.ProjectID,
		OwnerID:          m.OwnerID,
		Status:           domain.OrderStatus(m.Status),
		PrintCostCents:   m.PrintCostCents,
		ShippingCents:    m.ShippingCents,
		MarginCents:      m.MarginCents,
		TotalCents:       m.TotalCents,
		Currency:         m.Currency,
		InteriorURL:      m.InteriorURL,
		CoverURL:         m.CoverURL,
		ActualPageCount:  m.ActualPageCount,
		PaymentSessionID: m.PaymentSessionID,
		VendorJobID:      m.VendorJobID,
		VendorJobStatus:  m.VendorJobStatus,
		ShippingAddress:  addr,
		ErrorMessage:     m.ErrorMessage,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
