package bus

import "time"

// Event is a domain notification published in-process. Kind uses dotted
// namespaces: "identity.*" for sign-in/sign-out, "chat.*" for local store
// mutations, "message.*" for outbound send outcomes, "session.*" for daemon
// runtime state changes.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
