package conn

// NewForTest constructs a bare Connection in H1Idle state with no
// backing socket, for package tests elsewhere in the module (pool's
// factory/eviction tests) that only need to exercise state-machine and
// pool bookkeeping, not real I/O.
func NewForTest() *Connection {
	return &Connection{state: H1Idle, maxRequests: maxInt}
}
