package session

import "errors"

var (
	// ErrPacketIDConflict indicates an outgoing flow tried to reuse an
	// identifier that is still bound to another outstanding flow
	ErrPacketIDConflict = errors.New("packet identifier already bound to an outstanding flow")

	// ErrUnknownPacketID indicates an acknowledgement arrived for an
	// identifier with no matching outstanding flow
	ErrUnknownPacketID = errors.New("no outstanding flow for packet identifier")

	// ErrUnknownTopicAlias indicates a publish carried an alias with an empty
	// topic before the alias was registered
	ErrUnknownTopicAlias = errors.New("topic alias not registered")

	// ErrSnapshotVersion indicates snapshot data from an incompatible version
	ErrSnapshotVersion = errors.New("unsupported session snapshot version")
)
