package appeal

import (
	"time"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
)

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusMoreInfoRequested Status = "MORE_INFO_REQUESTED"
	StatusApproved          Status = "APPROVED"
	StatusRejected          Status = "REJECTED"
)

// OpenStatuses are the statuses of an appeal still awaiting a final decision.
var OpenStatuses = []Status{StatusPending, StatusMoreInfoRequested}

func (s Status) Open() bool {
	return s == StatusPending || s == StatusMoreInfoRequested
}

func (s Status) Valid() bool {
	return s.Open() || s == StatusApproved || s == StatusRejected
}

type Type string

const (
	TypeDocumentation Type = "documentation"
	TypeEligibility   Type = "eligibility"
	TypeStatus        Type = "status"
	TypeTier          Type = "tier"
	TypeGeneral       Type = "general"
)

var Types = []Type{TypeDocumentation, TypeEligibility, TypeStatus, TypeTier, TypeGeneral}

const MinReasonLength = 50

type Appeal struct {
	ID                  string             `json:"id"`
	TenantID            string             `json:"tenant_id"`
	Type                Type               `json:"appeal_type"`
	OriginalDecision    eligibility.Status `json:"original_decision"`
	Reason              string             `json:"appeal_reason"`
	SupportingDocuments []string           `json:"supporting_documents"`
	Status              Status             `json:"status"`
	ReviewNotes         string             `json:"review_notes,omitempty"`
	ReviewedBy          string             `json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time         `json:"reviewed_at,omitempty"` // UTC
	CreatedAt           time.Time          `json:"created_at"`            // UTC
	UpdatedAt           time.Time          `json:"updated_at"`            // UTC
}

// NewAppeal contains what a tenant provides to contest a decision.
type NewAppeal struct {
	Type                Type     `json:"appeal_type" validate:"omitempty,appeal_type"`
	Reason              string   `json:"appeal_reason" validate:"required,min=50,max=5000"`
	SupportingDocuments []string `json:"supporting_documents" validate:"max=20,dive,required,url"`
}

func (na *NewAppeal) Clean() {
	na.Reason = core.CleanString(na.Reason)
	if na.Type == "" {
		na.Type = TypeStatus
	}
	docs := make([]string, 0, len(na.SupportingDocuments))
	for _, d := range na.SupportingDocuments {
		docs = append(docs, core.CleanString(d))
	}
	na.SupportingDocuments = docs
}

// Review is an admin decision on an open appeal.
type Review struct {
	Decision    Status `json:"decision" validate:"required,appeal_decision"`
	ReviewNotes string `json:"review_notes" validate:"max=2000"`
}

type Filter struct {
	TenantID string
	Statuses []Status
}

type Stats struct {
	Total              int          `json:"total"`
	Pending            int          `json:"pending"`
	MoreInfoRequested  int          `json:"more_info_requested"`
	Approved           int          `json:"approved"`
	Rejected           int          `json:"rejected"`
	AvgReviewTimeHours float64      `json:"avg_review_time_hours"`
	ByType             map[Type]int `json:"by_type"`
}
