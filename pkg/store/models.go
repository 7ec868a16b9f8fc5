package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProjectModel struct {
	ID                  string `gorm:"primaryKey"`
	OwnerID             string `gorm:"not null;index"`
	Type                string `gorm:"not null"`
	Title               string `gorm:"not null"`
	Status              string `gorm:"not null"`
	VendorSKU           string `gorm:"not null"`
	StoryPlan           datatypes.JSON `gorm:"type:jsonb"`
	CharacterRefKey     string
	CompletedUnits      int `gorm:"not null;default:0"`
	TotalUnits          int `gorm:"not null;default:0"`
	InteriorKey         string
	CoverKey            string
	ReconciledPageCount int
	PagePadded          bool
	PageFallback        bool
	ErrorMessage        string
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

type UnitModel struct {
	ID        string `gorm:"primaryKey"`
	ProjectID string `gorm:"not null;uniqueIndex:ux_project_seq,priority:1"`
	Seq       int    `gorm:"not null;uniqueIndex:ux_project_seq,priority:2"`
	Content   string `gorm:"type:text"`
	ImageKey  string
	PlanJSON  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

type OrderModel struct {
	ID               string `gorm:"primaryKey"`
	ProjectID        string `gorm:"not null;index"`
	OwnerID          string `gorm:"not null;index"`
	Status           string `gorm:"not null"`
	PrintCostCents   int64  `gorm:"not null"`
	ShippingCents    int64  `gorm:"not null"`
	MarginCents      int64  `gorm:"not null"`
	TotalCents       int64  `gorm:"not null"`
	Currency         string `gorm:"not null"`
	InteriorURL      string
	CoverURL         string
	ActualPageCount  int
	PaymentSessionID string `gorm:"index"`
	VendorJobID      string
	VendorJobStatus  string
	ShippingAddress  datatypes.JSON `gorm:"type:jsonb"`
	ErrorMessage     string
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}
