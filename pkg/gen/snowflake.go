package gen

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen", fx.Provide(ProvideNode))

// ProvideNode builds the process-wide snowflake node. NODE_ID distinguishes
// replicas; a single instance can leave it unset.
func ProvideNode() (*snowflake.Node, error) {
	nodeID := int64(1)
	if v, ok := os.LookupEnv("NODE_ID"); ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			nodeID = parsed
		}
	}

	return snowflake.NewNode(nodeID)
}
