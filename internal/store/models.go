package store

import (
	"encoding/json"
	"time"
)

const (
	GenderMale   = "male"
	GenderFemale = "female"

	StatusAlive    = "alive"
	StatusDeceased = "deceased"

	MarriageCurrent = "current"
	MarriagePast    = "past"

	SuggestionPending  = "pending"
	SuggestionApproved = "approved"
	SuggestionRejected = "rejected"
)

// Profile is a person node. The JSON form is the audit snapshot shape.
type Profile struct {
	ID               string          `json:"id"`
	HID              *string         `json:"hid"`
	Name             string          `json:"name"`
	Gender           string          `json:"gender"`
	Status           string          `json:"status"`
	FatherID         *string         `json:"father_id"`
	MotherID         *string         `json:"mother_id"`
	SiblingOrder     int             `json:"sibling_order"`
	UserID           *string         `json:"user_id"`
	Role             string          `json:"role"`
	FamilyOrigin     *string         `json:"family_origin"`
	Kunya            *string         `json:"kunya"`
	Nickname         *string         `json:"nickname"`
	Bio              *string         `json:"bio"`
	Occupation       *string         `json:"occupation"`
	Education        *string         `json:"education"`
	BirthPlace       *string         `json:"birth_place"`
	CurrentResidence *string         `json:"current_residence"`
	Phone            *string         `json:"phone"`
	Email            *string         `json:"email"`
	PhotoURL         *string         `json:"photo_url"`
	SocialMediaLinks json.RawMessage `json:"social_media_links"`
	DobData          json.RawMessage `json:"dob_data"`
	DodData          json.RawMessage `json:"dod_data"`
	Version          int             `json:"version"`
	DeletedAt        *time.Time      `json:"deleted_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	UpdatedBy        *string         `json:"updated_by"`
}

// IsMunasib reports a married-in profile (no HID).
func (p Profile) IsMunasib() bool {
	return p.HID == nil || *p.HID == ""
}

func (p Profile) IsDeleted() bool {
	return p.DeletedAt != nil
}

type Marriage struct {
	ID        string     `json:"id"`
	HusbandID string     `json:"husband_id"`
	WifeID    string     `json:"wife_id"`
	Status    string     `json:"status"`
	StartDate *string    `json:"start_date"`
	EndDate   *string    `json:"end_date"`
	Munasib   *string    `json:"munasib"`
	Version   int        `json:"version"`
	DeletedAt *time.Time `json:"deleted_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AuditEntry is an append-only log row. Only the undo fields are ever set
// after insert, and only once.
type AuditEntry struct {
	ID               int64
	TableName        string
	RecordID         string
	Action           string
	ActionCategory   string
	ActorID          string
	OldData          json.RawMessage
	NewData          json.RawMessage
	ChangedFields    []string
	Description      string
	Severity         string
	Metadata         json.RawMessage
	IsUndoable       bool
	UndoneAt         *time.Time
	UndoneBy         *string
	UndoReason       *string
	CompensatesLogID *int64
	CreatedAt        time.Time
}

type EditSuggestion struct {
	ID             string
	ProfileID      string
	Field          string
	NewValue       json.RawMessage
	Reason         *string
	ProfileVersion int
	Status         string
	SubmittedBy    string
	ReviewedBy     *string
	ReviewNote     *string
	CreatedAt      time.Time
	ReviewedAt     *time.Time
}

type BranchModerator struct {
	ID         string
	UserID     string
	BranchHID  string
	IsActive   bool
	AssignedBy string
	CreatedAt  time.Time
}

type SuggestionBlock struct {
	BlockedUserID string
	Reason        *string
	IsActive      bool
	BlockedBy     string
	CreatedAt     time.Time
}

type Account struct {
	ID           string
	Email        string
	PasswordHash string
	ProfileID    string
	CreatedAt    time.Time
}

// TreeNode is the projection the lineage index and search load in bulk.
type TreeNode struct {
	ID       string
	Name     string
	Gender   string
	FatherID *string
	HID      string
}
