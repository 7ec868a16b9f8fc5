package store

import (
	"fablepress/pkg/domain"
)

// Store defines persistence operations for projects, units, and orders.
// The relational store is the single source of truth; multi-statement
// mutations run inside explicit transactions.
type Store interface {
	// projects
	SaveProject(domain.Project) error
	GetProject(id string) (domain.Project, bool, error)
	ListProjectsByOwner(ownerID string) ([]domain.Project, error)
	SetProjectStatus(id string, status domain.ProjectStatus, errMsg string) error
	SetProjectProgress(id string, completed, total int) error
	SetProjectArtifacts(id string, a ProjectArtifacts) error
	DeleteProject(id string) error

	// units; UpsertUnit is keyed on (project_id, seq) so regenerating an
	// existing unit replaces it in place.
	UpsertUnit(domain.Unit) error
	GetUnit(projectID string, seq int) (domain.Unit, bool, error)
	ListUnits(projectID string) ([]domain.Unit, error)

	// CompleteFanOutUnit atomically records one finished fan-out child and
	// returns the updated completed/total counters so the caller can detect
	// the final child exactly once.
	CompleteFanOutUnit(projectID string) (completed, total int, err error)

	// orders
	CreateOrder(domain.Order) error
	GetOrder(id string) (domain.Order, bool, error)
	ListOrdersByProject(projectID string) ([]domain.Order, error)
	SetOrderSession(id, sessionID string) error
	SetOrderFailed(id, errMsg string) error

	// WithPendingOrder runs fn against the order row under a row lock, but
	// only if the order exists and is still pending; otherwise it returns
	// claimed=false without invoking fn. Mutations fn makes to the order are
	// persisted when fn returns nil; a non-nil error rolls back.
	WithPendingOrder(id string, fn func(*domain.Order) error) (claimed bool, err error)
}

// ProjectArtifacts carries the reconciled print-ready outputs recorded on a
// project once generation finishes.
type ProjectArtifacts struct {
	InteriorKey         string
	CoverKey            string
	ReconciledPageCount int
	PagePadded          bool
	PageFallback        bool
}
