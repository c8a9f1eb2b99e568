package importer

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ImportType string

var (
	TypeInventory ImportType = "inventory"
	TypeOrders    ImportType = "orders"
)

func (t ImportType) Valid() bool {
	return t == TypeInventory || t == TypeOrders
}

func (t ImportType) String() string {
	if t.Valid() {
		return string(t)
	}
	return ""
}

type BatchStatus string

var (
	StatusPending    BatchStatus = "pending"
	StatusProcessing BatchStatus = "processing"
	StatusCompleted  BatchStatus = "completed"
	StatusFailed     BatchStatus = "failed"
)

// reasonCancelled is the failureReason the cancel endpoint writes; the
// worker's terminal guard keys off it to drop the queue job as failed.
const reasonCancelled = "cancelled by user"

// Terminal reports whether the batch can never change state again.
func (s BatchStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Glyph is the display decoration the dashboards prepend to a batch row. It
// carries no meaning beyond display.
func (s BatchStatus) Glyph() string {
	switch s {
	case StatusPending:
		return "🕐"
	case StatusProcessing:
		return "⏳"
	case StatusCompleted:
		return "✅"
	case StatusFailed:
		return "❌"
	default:
		return "❓"
	}
}

// RowError is one rejected row range with the reason, kept in file order.
type RowError struct {
	RowRange string `json:"row_range"`
	Message  string `json:"message"`
}

// BatchLog is one timestamped progress entry nested on the batch record.
type BatchLog struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// ImportBatch tracks one submitted import through its whole lifecycle.
// Status only ever moves pending → processing → completed or failed; a batch
// with row errors can still complete, the errors ride along per row. Batches
// are kept for audit and never deleted automatically.
type ImportBatch struct {
	ID         snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	BatchCode  string       `gorm:"column:batch_code;uniqueIndex" json:"batch_code"`
	ClientID   snowflake.ID `gorm:"column:client_id;index;not null" json:"client_id"`
	ImportedBy string       `gorm:"column:imported_by" json:"imported_by,omitempty"`

	ImportType   ImportType `gorm:"column:import_type;not null" json:"import_type"`
	Filename     string     `gorm:"column:filename" json:"filename"`
	ObjectKey    string     `gorm:"column:object_key" json:"object_key"`
	MappingKey   string     `gorm:"column:mapping_key" json:"mapping_key,omitempty"`
	FileChecksum string     `gorm:"column:file_checksum;index" json:"file_checksum,omitempty"`

	Status         BatchStatus       `gorm:"column:status;index;default:'pending'" json:"status"`
	RowCount       int               `gorm:"column:row_count" json:"row_count"`
	ProcessedCount int               `gorm:"column:processed_count" json:"processed_count"`
	ErrorCount     int               `gorm:"column:error_count" json:"error_count"`
	Errors         datatypes.JSON    `gorm:"column:errors;type:jsonb" json:"errors,omitempty"`
	DiagnosticLogs datatypes.JSON    `gorm:"column:diagnostic_logs;type:jsonb" json:"diagnostic_logs,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	SourceHeaders datatypes.JSON `gorm:"column:source_headers;type:jsonb" json:"source_headers,omitempty"`
	MappedHeaders datatypes.JSON `gorm:"column:mapped_headers;type:jsonb" json:"mapped_headers,omitempty"`
	CustomHeaders datatypes.JSON `gorm:"column:custom_headers;type:jsonb" json:"custom_headers,omitempty"`

	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
