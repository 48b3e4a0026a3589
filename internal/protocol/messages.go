package protocol

// Inbound payloads.

type InitiateCall struct {
	Type     string `json:"type"`
	Callee   string `json:"callee" validate:"required,max=256"`
	UseVideo bool   `json:"useVideo"`
}

type AnswerCall struct {
	Type   string `json:"type"`
	Caller string `json:"caller" validate:"required,max=256"`
}

type RejectCall struct {
	Type   string `json:"type"`
	Caller string `json:"caller" validate:"required,max=256"`
}

// Relay carries an offer, answer or candidate to one connection of the
// target identity. Payload is opaque to the server.
type Relay struct {
	Type               string `json:"type"`
	Target             string `json:"target" validate:"required,max=256"`
	TargetConnectionID string `json:"targetConnectionId" validate:"required"`
	SDP                string `json:"sdp,omitempty" validate:"required_unless=Type send-ice-candidate"`
	Candidate          string `json:"candidate,omitempty" validate:"required_if=Type send-ice-candidate"`
}

// Payload returns the opaque body regardless of verb.
func (r Relay) Payload() string {
	if r.Type == TypeSendICECandidate {
		return r.Candidate
	}
	return r.SDP
}

type EndCall struct {
	Type string `json:"type"`
	Peer string `json:"peer" validate:"required,max=256"`
}

// Outbound events.

type PresenceConnection struct {
	ConnectionID string `json:"connectionId"`
	ClientType   string `json:"clientType"`
}

type PresenceUser struct {
	UserName    string               `json:"userName"`
	Name        string               `json:"name"`
	Connections []PresenceConnection `json:"connections"`
}

type PresenceSnapshot struct {
	Type  string         `json:"type"`
	Users []PresenceUser `json:"users"`
}

type IncomingCall struct {
	Type               string `json:"type"`
	Caller             string `json:"caller"`
	CallerName         string `json:"callerName"`
	UseVideo           bool   `json:"useVideo"`
	CallerConnectionID string `json:"callerConnectionId"`
}

type CallAnswered struct {
	Type               string `json:"type"`
	Callee             string `json:"callee"`
	CalleeConnectionID string `json:"calleeConnectionId"`
}

type CallRejected struct {
	Type   string `json:"type"`
	Callee string `json:"callee"`
}

// Relayed is the delivery side of Relay.
type Relayed struct {
	Type               string `json:"type"`
	Sender             string `json:"sender"`
	SenderConnectionID string `json:"senderConnectionId"`
	SDP                string `json:"sdp,omitempty"`
	Candidate          string `json:"candidate,omitempty"`
}

type CallEnded struct {
	Type   string `json:"type"`
	Sender string `json:"sender"`
}

type WhoAmI struct {
	Type         string `json:"type"`
	UserName     string `json:"userName"`
	Name         string `json:"name"`
	ConnectionID string `json:"connectionId"`
	ClientType   string `json:"clientType"`
}

type Error struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Verb    string `json:"verb,omitempty"`
	Message string `json:"message,omitempty"`
}

type Pong struct {
	Type string `json:"type"`
}
