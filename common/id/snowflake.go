package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	mu   sync.RWMutex
	node *snowflake.Node
)

// Init configures the process-wide snowflake node. Calling it again with the
// same node id is a no-op, so test suites can call it from BeforeEach.
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	if node != nil {
		return nil
	}
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("creating snowflake node %d: %w", nodeID, err)
	}
	node = n
	return nil
}

// New returns a time-ordered unique id. Init must have been called.
func New() int64 {
	mu.RLock()
	defer mu.RUnlock()

	if node == nil {
		panic("id: New called before Init")
	}
	return node.Generate().Int64()
}
