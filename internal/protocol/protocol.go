// Package protocol defines the JSON messages exchanged on the signaling
// channel. Every message is an object with a "type" field naming the verb.
package protocol

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Inbound verbs.
const (
	TypeRegisterPresence = "register-presence"
	TypeInitiateCall     = "initiate-call"
	TypeAnswerCall       = "answer-call"
	TypeRejectCall       = "reject-call"
	TypeSendOffer        = "send-offer"
	TypeSendAnswer       = "send-answer"
	TypeSendICECandidate = "send-ice-candidate"
	TypeEndCall          = "end-call"
	TypePing             = "ping"
	TypeWhoAmI           = "whoami"
)

// Outbound events.
const (
	TypePresenceSnapshot    = "presence-snapshot"
	TypeIncomingCall        = "incoming-call"
	TypeCallAnswered        = "call-answered"
	TypeCallRejected        = "call-rejected"
	TypeReceiveOffer        = "receive-offer"
	TypeReceiveAnswer       = "receive-answer"
	TypeReceiveICECandidate = "receive-ice-candidate"
	TypeCallEnded           = "call-ended"
	TypePong                = "pong"
	TypeError               = "error"
)

// Error codes carried by an Error event.
const (
	CodeBadPayload      = "bad_payload"
	CodeUnknownVerb     = "unknown_verb"
	CodeUnknownTarget   = "unknown_target"
	CodeStaleConnection = "stale_connection"
	CodeRateLimited     = "rate_limited"
	CodeSelfCall        = "self_call"
	CodeUndeliverable   = "undeliverable"
	CodeInternal        = "internal"
)

var ErrBadPayload = errors.New("bad payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

type Envelope struct {
	Type string `json:"type"`
}

// PeekType returns the verb of a raw message.
func PeekType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrBadPayload)
	}
	return env.Type, nil
}

// Decode unmarshals data into v and validates its struct tags.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
