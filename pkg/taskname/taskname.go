package taskname

const (
	// Import tasks
	ImportProcess = "import:process"

	// Analytics tasks
	AnalyticsRecalculate = "analytics:recalculate"
)

// Queue names. The import queue is configurable; analytics is fixed.
const (
	AnalyticsQueue = "analytics"
)
