package compiler

import "errors"

var (
	// ErrCyclicGraph is returned when the node/edge set cannot be
	// topologically ordered. ConnectEdge already rejects cycles
	// incrementally, so this only fires against a malformed graph.
	ErrCyclicGraph = errors.New("compiler: graph contains a cycle")
	// ErrBufferWriteConflict is returned by the verifier when a task
	// writes a buffer that an earlier task wrote with no read of it in
	// between; a buffer reused after its readers ran is not a conflict.
	ErrBufferWriteConflict = errors.New("compiler: two tasks write the same buffer")
	// ErrAliasedReadWrite is returned by the verifier when a task reads
	// a buffer another task writes without the two being ordered by the
	// schedule's task list, which the compiler itself guarantees by
	// construction (every task appears after its producers); this is
	// kept as a defensive double-check.
	ErrAliasedReadWrite = errors.New("compiler: task reads a buffer not yet produced")
)
