// Package protocol defines the values exchanged between the transport, the
// session core and whoever renders them.
package protocol

import "fmt"

// Status represents the lifecycle state of a connection.
type Status int

const (
	StatusUninstantiated Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
	StatusClosed
)

// Statuses returns every Status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusUninstantiated,
		StatusConnecting,
		StatusOpen,
		StatusClosing,
		StatusClosed,
	}
}

// Label returns the human-readable label of the status.
func (s Status) Label() string {
	switch s {
	case StatusUninstantiated:
		return "Uninstantiated"
	case StatusConnecting:
		return "Connecting"
	case StatusOpen:
		return "Open"
	case StatusClosing:
		return "Closing"
	case StatusClosed:
		return "Closed"
	}
	// Only reachable through a conversion from an arbitrary int.
	return fmt.Sprintf("Status(%d)", int(s))
}

// String returns the string representation of Status
func (s Status) String() string {
	return s.Label()
}

// Valid reports whether s is one of the declared variants.
func (s Status) Valid() bool {
	return s >= StatusUninstantiated && s <= StatusClosed
}

// CanTransition reports whether a connection may move from one status to
// another. Open is only reachable through Connecting, and Closed only leaves
// through a fresh Connecting.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusUninstantiated:
		return to == StatusConnecting
	case StatusConnecting:
		return to == StatusOpen || to == StatusClosing || to == StatusClosed
	case StatusOpen:
		return to == StatusClosing || to == StatusClosed
	case StatusClosing:
		return to == StatusClosed
	case StatusClosed:
		return to == StatusConnecting
	}
	return false
}
