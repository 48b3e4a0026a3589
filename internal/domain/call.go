package domain

// CallState is the lifecycle position of a call attempt between two identities.
type CallState int

const (
	CallIdle CallState = iota
	CallRinging
	CallAnswered
	CallNegotiating
	CallConnected
	CallEnded
	CallRejected
	CallCancelled
)

var callStateNames = [...]string{
	CallIdle:        "idle",
	CallRinging:     "ringing",
	CallAnswered:    "answered",
	CallNegotiating: "negotiating",
	CallConnected:   "connected",
	CallEnded:       "ended",
	CallRejected:    "rejected",
	CallCancelled:   "cancelled",
}

func (s CallState) String() string {
	if int(s) < len(callStateNames) {
		return callStateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallEnded || s == CallRejected || s == CallCancelled
}

// Live reports whether a session in this state binds two connections.
func (s CallState) Live() bool {
	return s == CallAnswered || s == CallNegotiating || s == CallConnected
}
