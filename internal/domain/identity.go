// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxIdentityNameLen = 256

var (
	ErrIdentityNameEmpty   = errors.New("identity name empty")
	ErrIdentityNameTooLong = errors.New("identity name too long")
)

// IdentityName is the stable unique key of an authenticated principal.
type IdentityName string

func (n IdentityName) String() string { return string(n) }

type Identity struct {
	Name        IdentityName `json:"userName"`
	DisplayName string       `json:"name"`
}

// NewIdentity validates the name. An empty display name falls back to it.
func NewIdentity(name, displayName string) (Identity, error) {
	if len(name) == 0 {
		return Identity{}, ErrIdentityNameEmpty
	}
	if len(name) > MaxIdentityNameLen {
		return Identity{}, ErrIdentityNameTooLong
	}
	if displayName == "" {
		displayName = name
	}
	return Identity{Name: IdentityName(name), DisplayName: displayName}, nil
}

type ConnectionID string

func (id ConnectionID) String() string { return string(id) }

func NewConnectionID() ConnectionID { return ConnectionID(uuid.NewString()) }

type ClientClass string

const (
	ClientMobile  ClientClass = "Mobile"
	ClientDesktop ClientClass = "Desktop"
	ClientUnknown ClientClass = "Unknown"
)

// ClassifyUserAgent infers the device class from a User-Agent header.
func ClassifyUserAgent(ua string) ClientClass {
	switch {
	case strings.Contains(ua, "Mobile"):
		return ClientMobile
	case strings.Contains(ua, "Windows"),
		strings.Contains(ua, "Macintosh"),
		strings.Contains(ua, "Linux"):
		return ClientDesktop
	default:
		return ClientUnknown
	}
}

// Connection is one live signaling channel of an identity.
type Connection struct {
	ID       ConnectionID
	Identity Identity
	Class    ClientClass
	JoinedAt time.Time
}

func NewConnection(id Identity, class ClientClass) Connection {
	return Connection{
		ID:       NewConnectionID(),
		Identity: id,
		Class:    class,
		JoinedAt: time.Now(),
	}
}
