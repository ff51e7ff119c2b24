package bus

import "time"

// Event kinds published by the client core. Subscribers match on prefix,
// so "engine." receives both engine kinds.
const (
	KindEngineChanged     = "engine.changed"
	KindEngineStatus      = "engine.status_changed"
	KindChannelStatus     = "channel.status_changed"
	KindCredentialChanged = "session.credential_changed"
	KindNotice            = "notice"
)

// Event is a state-change notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Notice is a user-visible failure message carried by KindNotice events.
type Notice struct {
	Text string
	Err  error
}
