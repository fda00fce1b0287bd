// Package authz decides whether a connection may perform an operation on a
// destination. Room-scoped subscriptions are checked against live
// membership on every attempt.
package authz

import (
	"context"

	"github.com/weiawesome/wes-io-chat/internal/audit"
	"github.com/weiawesome/wes-io-chat/internal/destination"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Operation is a client frame kind subject to authorization.
type Operation int

const (
	Connect Operation = iota
	Disconnect
	Heartbeat
	Unsubscribe
	Subscribe
	Send
	Message
)

func (o Operation) String() string {
	switch o {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case Heartbeat:
		return "heartbeat"
	case Unsubscribe:
		return "unsubscribe"
	case Subscribe:
		return "subscribe"
	case Send:
		return "send"
	case Message:
		return "message"
	default:
		return "unknown"
	}
}

// MembershipChecker is the live membership lookup used for room-scoped
// subscriptions.
type MembershipChecker interface {
	IsMember(ctx context.Context, username, room string) (bool, error)
}

type rule struct {
	name   string
	match  func(op Operation, d destination.Destination) bool
	decide func(a *Authorizer, ctx context.Context, p domain.Principal, d destination.Destination) bool
}

// policy is evaluated top to bottom; the first matching rule decides.
var policy = []rule{
	{
		name: "lifecycle",
		match: func(op Operation, _ destination.Destination) bool {
			return op == Connect || op == Disconnect || op == Heartbeat || op == Unsubscribe
		},
		decide: allow,
	},
	{
		name: "send-app",
		match: func(op Operation, d destination.Destination) bool {
			return op == Send && d.Kind == destination.App
		},
		decide: authenticated,
	},
	{
		name: "subscribe-room",
		match: func(op Operation, d destination.Destination) bool {
			return op == Subscribe && d.IsRoomScoped()
		},
		decide: (*Authorizer).member,
	},
	{
		name: "subscribe-open",
		match: func(op Operation, d destination.Destination) bool {
			return op == Subscribe && (d.Kind == destination.Presence || d.Kind == destination.User)
		},
		decide: authenticated,
	},
}

func allow(*Authorizer, context.Context, domain.Principal, destination.Destination) bool {
	return true
}

func authenticated(_ *Authorizer, _ context.Context, p domain.Principal, _ destination.Destination) bool {
	return !p.IsAnonymous()
}

// member performs exactly one membership lookup.
func (a *Authorizer) member(ctx context.Context, p domain.Principal, d destination.Destination) bool {
	if p.IsAnonymous() || d.RoomID == "" {
		return false
	}

	ok, err := a.membership.IsMember(ctx, p.Username, d.RoomID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).
			Str(log.FieldUsername, p.Username).
			Str(log.FieldRoomID, d.RoomID).
			Msg("membership check failed, denying")
		return false
	}
	return ok
}

// Authorizer applies the policy table.
type Authorizer struct {
	membership MembershipChecker
}

// NewAuthorizer creates an authorizer backed by membership.
func NewAuthorizer(membership MembershipChecker) *Authorizer {
	return &Authorizer{membership: membership}
}

// Authorize reports whether p may perform op on dest. Denials are audited
// and never surfaced with a reason.
func (a *Authorizer) Authorize(ctx context.Context, p domain.Principal, op Operation, dest string) bool {
	d := destination.Parse(dest)

	for _, r := range policy {
		if !r.match(op, d) {
			continue
		}
		if r.decide(a, ctx, p, d) {
			return true
		}
		a.auditDeny(ctx, p, op, dest, r.name)
		return false
	}

	a.auditDeny(ctx, p, op, dest, "default")
	return false
}

func (a *Authorizer) auditDeny(ctx context.Context, p domain.Principal, op Operation, dest, ruleName string) {
	action := audit.ActionSubscribeDenied
	if op == Send {
		action = audit.ActionSendDenied
	}
	audit.LogWithDetail(ctx, action, p.Name(), op.String()+" "+dest+" rule="+ruleName, "operation denied")
}
