package taurus

import (
	"strings"

	cristalbase64 "github.com/cristalhq/base64"
	"github.com/google/uuid"
)

// PeerIdentity names one connection for its whole lifetime.
// A fresh random (v4) value is drawn for every peer a
// backend creates, so identities are never reused, even
// when the same remote address reconnects.
type PeerIdentity uuid.UUID

// NewPeerIdentity draws a new random identity.
func NewPeerIdentity() PeerIdentity {
	return PeerIdentity(uuid.New())
}

func (id PeerIdentity) String() string {
	return uuid.UUID(id).String()
}

// Short is a compact 22 character alias, handy in logs.
func (id PeerIdentity) Short() string {
	return strings.TrimRight(cristalbase64.URLEncoding.EncodeToString(id[:]), "=")
}

func (id PeerIdentity) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}
