package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewStamp returns a random opaque value used for security and concurrency stamps.
func NewStamp() string {
	return uuid.NewString()
}

// NewSnowflakeID generates a snowflake ID using a process-wide node whose id
// comes from the SNOWFLAKE_NODE environment variable (default 1).
func NewSnowflakeID() int64 {
	nodeOnce.Do(func() {
		node = NewSnowflakeNode(nodeIDFromEnv())
	})
	return node.Generate().Int64()
}

// NewSnowflakeNode returns a snowflake node for nodeID. Out-of-range ids
// fall back to node 1 so callers always get a usable generator.
func NewSnowflakeNode(nodeID int64) *snowflake.Node {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		n, _ = snowflake.NewNode(1)
	}
	return n
}

func nodeIDFromEnv() int64 {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return 1
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return 1
	}
	return nodeID
}
