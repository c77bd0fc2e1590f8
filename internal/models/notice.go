package models

import "time"

// NoticeStatus is the lifecycle state of a legal notice.
type NoticeStatus string

const (
	NoticeActive     NoticeStatus = "active"
	NoticeExpired    NoticeStatus = "expired"
	NoticeSuperseded NoticeStatus = "superseded"
	NoticeWithdrawn  NoticeStatus = "withdrawn"
)

// NoticeType classifies a legal event tied to a source.
type NoticeType string

const (
	NoticeFairUseStatement  NoticeType = "fair_use_statement"
	NoticeTakedown          NoticeType = "takedown_notice"
	NoticeComplianceWarning NoticeType = "compliance_warning"
)

// LegalNotice records one externally issued or internally generated
// legal event tied to a source.
type LegalNotice struct {
	ID          string       `json:"id"                   db:"id"`
	SourceID    string       `json:"source_id"            db:"source_id"`
	Type        NoticeType   `json:"notice_type"          db:"notice_type"`
	Body        string       `json:"body"                 db:"body"`
	IssuedBy    string       `json:"issued_by"            db:"issued_by"`
	EffectiveAt time.Time    `json:"effective_at"         db:"effective_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty" db:"expires_at"`
	Status      NoticeStatus `json:"status"               db:"status"`
	CreatedAt   time.Time    `json:"created_at"           db:"created_at"`
}
