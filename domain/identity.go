// Package domain contains core concepts of the dispatcher.
// This file defines identities and connection scopes.
// No runtime, network, or storage logic should be added here.
package domain

type UserID string

type GroupID string

type MessageID uint64

type ConnectionID string

// SessionToken is the opaque credential carried in connection URLs.
type SessionToken string

// Redacted keeps tokens out of logs.
func (t SessionToken) Redacted() string {
	if len(t) <= 8 {
		return "****"
	}
	return string(t[:4]) + "****" + string(t[len(t)-4:])
}

type ScopeKind string

const (
	ScopeGlobal     ScopeKind = "GLOBAL"
	ScopeGroup      ScopeKind = "GROUP"
	ScopeIndividual ScopeKind = "INDIVIDUAL"
)

// Scope tells which endpoint a connection was opened on.
// Peer is only set for individual chat connections.
type Scope struct {
	Kind ScopeKind
	Peer UserID
}

func GlobalScope() Scope { return Scope{Kind: ScopeGlobal} }

func GroupScope() Scope { return Scope{Kind: ScopeGroup} }

func IndividualScope(peer UserID) Scope {
	return Scope{Kind: ScopeIndividual, Peer: peer}
}

// IsScopedTo reports whether the connection was opened to chat with peer.
func (s Scope) IsScopedTo(peer UserID) bool {
	return s.Kind == ScopeIndividual && s.Peer == peer
}
