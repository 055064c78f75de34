// Package conn implements the per-origin Connection & Keep-Alive state
// machine of spec.md §4.7: dialing (direct or via a forward proxy),
// optional TLS with ALPN negotiation, the Disconnected/Connecting/
// H1-Idle/Requesting/Responding/H2-Active/H2-Closing transitions, and
// the keep-alive timer and request-count bookkeeping that decide when a
// connection is recycled instead of closed.
package conn

import "fmt"

// State is one node of the state machine spec.md §4.7 describes.
type State int

const (
	Disconnected State = iota
	Connecting
	H1Idle
	Requesting
	Responding
	H2Active
	H2Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case H1Idle:
		return "h1-idle"
	case Requesting:
		return "requesting"
	case Responding:
		return "responding"
	case H2Active:
		return "h2-active"
	case H2Closing:
		return "h2-closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
