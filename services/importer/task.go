package importer

import (
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"

	"stockplane/pkg/taskname"
)

// ImportPayload is the durable job body. The batch id doubles as the task id
// so the queue backend deduplicates re-submissions of the same batch.
type ImportPayload struct {
	BatchID    snowflake.ID `json:"batch_id"`
	ClientID   snowflake.ID `json:"client_id"`
	ObjectKey  string       `json:"object_key"`
	MappingKey string       `json:"mapping_key,omitempty"`
	ImportType ImportType   `json:"import_type"`
}

// NewImportTask builds the bare task; the queue adapter attaches the retry,
// retention, and dedup options when enqueueing.
func NewImportTask(p ImportPayload) *asynq.Task {
	payload, _ := json.Marshal(p)
	return asynq.NewTask(taskname.ImportProcess, payload)
}
