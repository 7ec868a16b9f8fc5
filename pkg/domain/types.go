package domain

import "time"

// ProjectType distinguishes the two book formats. Routing on it must be
// exhaustive; an unknown type is rejected, never defaulted.
type ProjectType string

const (
	TypePicture ProjectType = "picture"
	TypeText    ProjectType = "text"
)

// Valid reports whether t is a known project type.
func (t ProjectType) Valid() bool {
	return t == TypePicture || t == TypeText
}

type ProjectStatus string

const (
	ProjectDraft          ProjectStatus = "draft"
	ProjectCharacterReady ProjectStatus = "character_ready"
	ProjectStoryReady     ProjectStatus = "story_ready"
	ProjectGenerating     ProjectStatus = "generating"
	ProjectComplete       ProjectStatus = "complete"
	ProjectError          ProjectStatus = "error"
	ProjectFailed         ProjectStatus = "failed"
)

// projectTransitions encodes the forward-only state machine. error and
// failed are terminal except for an explicit retry, which re-enters
// story_ready to start a fresh generation attempt.
var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectDraft:          {ProjectCharacterReady},
	ProjectCharacterReady: {ProjectStoryReady},
	ProjectStoryReady:     {ProjectGenerating},
	ProjectGenerating:     {ProjectComplete, ProjectError, ProjectFailed},
	ProjectError:          {ProjectStoryReady},
	ProjectFailed:         {ProjectStoryReady},
}

// CanTransition reports whether a project may move from one status to another.
func CanTransition(from, to ProjectStatus) bool {
	for _, next := range projectTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Project struct {
	ID                  string        `json:"id"`
	OwnerID             string        `json:"ownerId"`
	Type                ProjectType   `json:"type"`
	Title               string        `json:"title"`
	Status              ProjectStatus `json:"status"`
	VendorSKU           string        `json:"vendorSku"`
	StoryPlan           []byte        `json:"-"`
	CharacterRefKey     string        `json:"-"`
	CompletedUnits      int           `json:"completedUnits"`
	TotalUnits          int           `json:"totalUnits"`
	InteriorKey         string        `json:"-"`
	CoverKey            string        `json:"-"`
	ReconciledPageCount int           `json:"reconciledPageCount,omitempty"`
	PagePadded          bool          `json:"pagePadded,omitempty"`
	PageFallback        bool          `json:"pageFallback,omitempty"`
	ErrorMessage        string        `json:"errorMessage,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// Unit is one chapter of a text project or one page of a picture project.
// Seq is 1-based and the set of persisted sequences for a project is always
// a contiguous prefix 1..N.
type Unit struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Seq       int       `json:"seq"`
	Content   string    `json:"content,omitempty"`
	ImageKey  string    `json:"-"`
	PlanJSON  []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type OrderStatus string

const (
	OrderPending           OrderStatus = "pending"
	OrderProcessing        OrderStatus = "processing"
	OrderCompleted         OrderStatus = "completed"
	OrderFailed            OrderStatus = "failed"
	OrderFulfillmentFailed OrderStatus = "fulfillment_failed"
)

type Order struct {
	ID               string      `json:"id"`
	ProjectID        string      `json:"projectId"`
	OwnerID          string      `json:"ownerId"`
	Status           OrderStatus `json:"status"`
	PrintCostCents   int64       `json:"printCostCents"`
	ShippingCents    int64       `json:"shippingCents"`
	MarginCents      int64       `json:"marginCents"`
	TotalCents       int64       `json:"totalCents"`
	Currency         string      `json:"currency"`
	InteriorURL      string      `json:"-"`
	CoverURL         string      `json:"-"`
	ActualPageCount  int         `json:"actualPageCount"`
	PaymentSessionID string      `json:"-"`
	VendorJobID      string      `json:"vendorJobId,omitempty"`
	VendorJobStatus  string      `json:"vendorJobStatus,omitempty"`
	ShippingAddress  *Address    `json:"shippingAddress,omitempty"`
	ErrorMessage     string      `json:"errorMessage,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// Address is a print shipping destination. CountryCode is ISO 3166-1 alpha-2.
type Address struct {
	Name        string `json:"name"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postalCode"`
	CountryCode string `json:"countryCode"`
	Phone       string `json:"phone,omitempty"`
}

// JobType classifies queued generation work. Each type runs on its own
// stream with its own concurrency bound.
type JobType string

const (
	JobSequentialUnit JobType = "sequential-unit"
	JobFanOutUnit     JobType = "fan-out-unit"
	JobRegeneration   JobType = "single-regeneration"
)

// Job is the durable record for one unit of generation work.
type Job struct {
	Type      JobType `json:"jobType"`
	ProjectID string  `json:"projectId"`
	OwnerID   string  `json:"ownerId"`
	UnitIndex int     `json:"unitIndex"`
	Guidance  string  `json:"guidance,omitempty"`
}
