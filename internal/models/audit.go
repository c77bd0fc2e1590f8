package models

import (
	"encoding/json"
	"time"
)

// AuditAction identifies the kind of mutation an audit entry records.
type AuditAction string

const (
	AuditCreate   AuditAction = "create"
	AuditUpdate   AuditAction = "update"
	AuditDelete   AuditAction = "delete"
	AuditValidate AuditAction = "validate"
	AuditSuspend  AuditAction = "suspend"
	AuditActivate AuditAction = "activate"
)

// AuditLogEntry records one mutation to a source (or related compliance
// entity) with full before/after snapshots. Entries are append-only and
// written in the same transaction as the mutation they record.
type AuditLogEntry struct {
	ID          int64           `json:"id"           db:"id"`
	TableName   string          `json:"table_name"   db:"table_name"`
	RecordID    string          `json:"record_id"    db:"record_id"`
	Action      AuditAction     `json:"action"       db:"action"`
	BeforeState json.RawMessage `json:"before_state" db:"before_state"`
	AfterState  json.RawMessage `json:"after_state"  db:"after_state"`
	LegalBasis  string          `json:"legal_basis"  db:"legal_basis"`
	Actor       string          `json:"actor"        db:"actor"`
	CreatedAt   time.Time       `json:"created_at"   db:"created_at"`
}

// AutomationAction identifies the scheduler operation a run log records.
type AutomationAction string

const (
	AutomationGenerate AutomationAction = "generate"
	AutomationTest     AutomationAction = "test"
	AutomationDeploy   AutomationAction = "deploy"
	AutomationValidate AutomationAction = "validate"
	AutomationMonitor  AutomationAction = "monitor"
	AutomationSuspend  AutomationAction = "suspend"
	AutomationRemove   AutomationAction = "remove"
)

// RunResult is the outcome of one attempted scrape run.
type RunResult string

const (
	RunSuccess RunResult = "success"
	RunFailure RunResult = "failure"
	RunWarning RunResult = "warning"
	RunPartial RunResult = "partial"
)

// ScraperAutomationLogEntry records one attempted scrape run: outcome,
// performance metrics, and the compliance snapshot at run time.
type ScraperAutomationLogEntry struct {
	ID                 string           `json:"id"                      db:"id"`
	SourceID           string           `json:"source_id"               db:"source_id"`
	Domain             string           `json:"domain"                  db:"domain"`
	Action             AutomationAction `json:"action"                  db:"action"`
	Result             RunResult        `json:"result"                  db:"result"`
	DurationMs         int64            `json:"duration_ms"             db:"duration_ms"`
	ArticlesFetched    int              `json:"articles_fetched"        db:"articles_fetched"`
	ComplianceSnapshot JSONMap          `json:"compliance_snapshot"     db:"compliance_snapshot"`
	ErrorMessage       string           `json:"error_message,omitempty" db:"error_message"`
	CreatedAt          time.Time        `json:"created_at"              db:"created_at"`
}
