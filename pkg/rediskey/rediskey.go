package rediskey

import "fmt"

// Import pipeline keys (global convention across services)
const (
	QueueMetricsPrefix = "import:queue:metrics"
	SequencePrefix     = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildQueueMetricsKey returns "import:queue:metrics:{queue}"
func BuildQueueMetricsKey(queue string) string {
	return NamespaceKey(QueueMetricsPrefix, queue)
}

// BuildSequenceKey returns "seq:{prefix}:{scope}:{day}", the daily counter
// behind human-readable codes.
func BuildSequenceKey(prefix, scope, day string) string {
	return fmt.Sprintf("%s:%s:%s:%s", SequencePrefix, prefix, scope, day)
}
