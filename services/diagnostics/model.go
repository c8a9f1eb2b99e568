package diagnostics

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Category buckets tracked errors by subsystem.
type Category string

var (
	CategoryImport     Category = "import"
	CategoryDatabase   Category = "database"
	CategoryAPI        Category = "api"
	CategoryFile       Category = "file"
	CategoryLock       Category = "lock"
	CategoryAuth       Category = "auth"
	CategoryValidation Category = "validation"
	CategoryML         Category = "ml"
	CategoryAnalytics  Category = "analytics"
)

func (c Category) String() string {
	switch c {
	case CategoryImport, CategoryDatabase, CategoryAPI, CategoryFile,
		CategoryLock, CategoryAuth, CategoryValidation, CategoryML, CategoryAnalytics:
		return string(c)
	default:
		return ""
	}
}

type CheckStatus string

var (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// DiagnosticLog is one appended health or error observation. Rows are
// immutable once written; only the retention cleanup deletes them.
type DiagnosticLog struct {
	ID        snowflake.ID      `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	RunID     string            `gorm:"column:run_id;index" json:"run_id"`
	Category  Category          `gorm:"column:category;index" json:"category"`
	Check     string            `gorm:"column:check_name" json:"check"`
	Status    CheckStatus       `gorm:"column:status;index" json:"status"`
	Message   string            `gorm:"column:message;type:text" json:"message"`
	Details   datatypes.JSONMap `gorm:"column:details;type:jsonb" json:"details,omitempty"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

// ErrorSummary is one (category, check) group returned by GetRecentErrors.
type ErrorSummary struct {
	Category   Category `gorm:"column:category" json:"category"`
	Check      string   `gorm:"column:check_name" json:"check"`
	Count      int64    `gorm:"column:error_count" json:"count"`
	LastSeenAt LastSeen `gorm:"column:last_seen_at" json:"last_seen_at"`
}

// LastSeen wraps time.Time so aggregate timestamps scan on every supported
// driver; sqlite hands max(created_at) back as text rather than a time value.
type LastSeen struct {
	time.Time
}

func (t *LastSeen) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		t.Time = x
		return nil
	case []byte:
		return t.parse(string(x))
	case string:
		return t.parse(x)
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func (t *LastSeen) parse(s string) error {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
