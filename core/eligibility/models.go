package eligibility

import (
	"time"

	"github.com/trezcool/masomo-eligibility/core"
)

// Status is a tenant's position in the verification lifecycle.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusUnderReview      Status = "UNDER_REVIEW"
	StatusEligible         Status = "ELIGIBLE"
	StatusRejected         Status = "REJECTED"
	StatusRequiresMoreInfo Status = "REQUIRES_MORE_INFO"
	StatusExpired          Status = "EXPIRED"
)

var Statuses = []Status{
	StatusPending,
	StatusUnderReview,
	StatusEligible,
	StatusRejected,
	StatusRequiresMoreInfo,
	StatusExpired,
}

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// InGrace reports whether tenants in this status run on a deadline.
func (s Status) InGrace() bool {
	return s == StatusPending || s == StatusUnderReview || s == StatusRequiresMoreInfo
}

// Action is an admin decision on a tenant under review.
type Action string

const (
	ActionApprove          Action = "APPROVE"
	ActionReject           Action = "REJECT"
	ActionRequiresMoreInfo Action = "REQUIRES_MORE_INFO"

	// ActionRequestInfo is the bulk spelling of ActionRequiresMoreInfo.
	ActionRequestInfo Action = "REQUEST_INFO"
)

// Normalize maps aliases onto the canonical action.
func (a Action) Normalize() Action {
	if a == ActionRequestInfo {
		return ActionRequiresMoreInfo
	}
	return a
}

type DocumentType string

const (
	DocAICTEApproval           DocumentType = "AICTE_APPROVAL"
	DocNCTERecognition         DocumentType = "NCTE_RECOGNITION"
	DocUniversityAffiliation   DocumentType = "UNIVERSITY_AFFILIATION"
	DocStateGovernmentApproval DocumentType = "STATE_GOVERNMENT_APPROVAL"
	DocEnrollmentData          DocumentType = "ENROLLMENT_DATA"
	DocStudentIDSample         DocumentType = "STUDENT_ID_SAMPLE"
	DocInstitutionRegistration DocumentType = "INSTITUTION_REGISTRATION"
	DocOther                   DocumentType = "OTHER"
)

type DocumentTypeInfo struct {
	Type        DocumentType `json:"type"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Required    bool         `json:"required"`
}

var DocumentTypes = []DocumentTypeInfo{
	{DocAICTEApproval, "AICTE Approval", "All India Council for Technical Education approval certificate", true},
	{DocNCTERecognition, "NCTE Recognition", "National Council for Teacher Education recognition", true},
	{DocUniversityAffiliation, "University Affiliation", "Affiliation certificate from a recognized university", false},
	{DocStateGovernmentApproval, "State Government Approval", "State government approval or recognition letter", true},
	{DocEnrollmentData, "Enrollment Data", "Official enrollment data showing student count", true},
	{DocStudentIDSample, "Student ID Sample", "Sample student ID cards", true},
	{DocInstitutionRegistration, "Institution Registration", "Official institution registration certificate", true},
	{DocOther, "Other Supporting Documents", "Any other relevant documents", false},
}

func (t DocumentType) Valid() bool {
	for _, info := range DocumentTypes {
		if info.Type == t {
			return true
		}
	}
	return false
}

const MaxDocumentSize = 10 << 20

var AllowedMimeTypes = []string{"application/pdf", "image/jpeg", "image/jpg", "image/png"}

type DocumentStatus string

const (
	DocPending          DocumentStatus = "PENDING"
	DocApproved         DocumentStatus = "APPROVED"
	DocRejected         DocumentStatus = "REJECTED"
	DocRequiresMoreInfo DocumentStatus = "REQUIRES_MORE_INFO"
)

type Tenant struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	ContactEmail string     `json:"contact_email"`
	StudentCount int        `json:"student_count"`
	Status       Status     `json:"eligibility_status"`
	Deadline     *time.Time `json:"eligibility_deadline"` // UTC
	VerifiedAt   *time.Time `json:"verified_at"`          // UTC
	CreatedAt    time.Time  `json:"created_at"`           // UTC
	UpdatedAt    time.Time  `json:"updated_at"`           // UTC
	Version      int        `json:"version"`

	Documents []Document `json:"documents,omitempty"`
}

type Document struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Type        DocumentType   `json:"document_type"`
	FileName    string         `json:"file_name"`
	FileURL     string         `json:"file_url"`
	FileSize    int64          `json:"file_size"`
	MimeType    string         `json:"mime_type"`
	Status      DocumentStatus `json:"status"`
	ReviewedBy  string         `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty"` // UTC
	ReviewNotes string         `json:"review_notes,omitempty"`
	CreatedAt   time.Time      `json:"created_at"` // UTC
}

// NewTenant contains information needed to register a Tenant.
type NewTenant struct {
	Name         string `json:"name" validate:"notblank,max=200"`
	Slug         string `json:"slug" validate:"required,max=100,slug"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email"`
	StudentCount int    `json:"student_count" validate:"min=0"`
}

func (nt *NewTenant) Clean() {
	nt.Name = core.CleanString(nt.Name)
	nt.Slug = core.CleanString(nt.Slug, true /* lower */)
	nt.ContactEmail = core.CleanString(nt.ContactEmail, true /* lower */)
}

// NewDocument is the metadata of an uploaded document; the bytes live in the external store.
type NewDocument struct {
	Type     DocumentType `json:"document_type" validate:"required,doc_type"`
	FileName string       `json:"file_name" validate:"notblank,max=255"`
	FileURL  string       `json:"file_url" validate:"required,url"`
	FileSize int64        `json:"file_size" validate:"gt=0,max=10485760"`
	MimeType string       `json:"mime_type" validate:"required,doc_mime"`
}

func (nd *NewDocument) Clean() {
	nd.FileName = core.CleanString(nd.FileName)
	nd.FileURL = core.CleanString(nd.FileURL)
	nd.MimeType = core.CleanString(nd.MimeType, true /* lower */)
}

type Decision struct {
	Action      Action `json:"action" validate:"required,eligibility_action"`
	ReviewNotes string `json:"review_notes" validate:"max=2000"`
}

type BulkDecision struct {
	Action      Action   `json:"action" validate:"required,bulk_action"`
	TenantIDs   []string `json:"tenant_ids" validate:"required,min=1,max=500,dive,required"`
	ReviewNotes string   `json:"review_notes" validate:"max=2000"`
}

type QueryFilter struct {
	Statuses []Status `query:"status"`
	Search   string   `query:"search"`
	// DueAfter matches tenants whose deadline is at or after it.
	DueAfter time.Time `query:"-"`
	// DueBefore matches tenants whose deadline is strictly before it.
	DueBefore time.Time `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// DocumentReview marks every PENDING document of a tenant.
type DocumentReview struct {
	Status     DocumentStatus
	ReviewedBy string
	ReviewedAt time.Time
	Notes      string
}

// Transition is a conditional write: it applies only if the stored tenant still has
// status From and version Tenant.Version-1.
type Transition struct {
	Tenant Tenant
	From   Status
	Review *DocumentReview
}

// Counts is a snapshot of the tenant table.
type Counts struct {
	Total          int
	ByStatus       map[Status]int
	AboveThreshold int
	Documents      map[DocumentStatus]int
}

// Activity summarises what happened to tenants since a point in time.
type Activity struct {
	Registered int `json:"registered"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
	// AvgProcessingDays is the mean time from registration to approval of the approved tenants.
	AvgProcessingDays float64 `json:"avg_processing_days"`
}

type Analytics struct {
	Total                 int                    `json:"total"`
	RequiringVerification int                    `json:"requiring_verification"`
	ByStatus              map[Status]int         `json:"by_status"`
	Documents             map[DocumentStatus]int `json:"documents"`
	Today                 Activity               `json:"today"`
	Week                  Activity               `json:"week"`
	Month                 Activity               `json:"month"`
	GeneratedAt           time.Time              `json:"generated_at"`
}

// Reminder selects the in-grace tenants whose deadline falls on the UTC day Days from now.
type Reminder struct {
	Days   int  `json:"days" query:"days" validate:"min=0,max=90"`
	DryRun bool `json:"dry_run" query:"-"`
}

type ReminderReport struct {
	Days     int       `json:"days"`
	DryRun   bool      `json:"dry_run"`
	Found    int       `json:"found"`
	Sent     int       `json:"sent"`
	Failed   int       `json:"failed"`
	Tenants  []Tenant  `json:"tenants"`
	Deadline time.Time `json:"deadline_day"`
}
