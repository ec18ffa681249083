package service

import (
	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/models"
)

type ActorKind string

const (
	ActorStaff  ActorKind = "staff"
	ActorOwner  ActorKind = "owner"
	ActorSystem ActorKind = "system"
)

const RoleAdmin = "admin"

// Actor is whoever triggers an operation. Staff carry their role; owners
// carry the identity that placed the order.
type Actor struct {
	Kind     ActorKind
	Role     string
	Identity identity.Identity
}

func Staff(role, userID string) Actor {
	return Actor{Kind: ActorStaff, Role: role, Identity: identity.User(userID)}
}

func Owner(id identity.Identity) Actor {
	return Actor{Kind: ActorOwner, Identity: id}
}

// System is the scheduler and the payment subsystem.
func System() Actor {
	return Actor{Kind: ActorSystem}
}

func (a Actor) IsStaff() bool  { return a.Kind == ActorStaff }
func (a Actor) IsSystem() bool { return a.Kind == ActorSystem }
func (a Actor) IsAdmin() bool  { return a.Kind == ActorStaff && a.Role == RoleAdmin }

func (a Actor) owns(o *models.OrderHeader) bool {
	return a.Kind == ActorOwner && !a.Identity.IsZero() && a.Identity.Equal(o.Owner())
}

// canSee hides other people's orders from owners.
func (a Actor) canSee(o *models.OrderHeader) bool {
	return a.IsStaff() || a.IsSystem() || a.owns(o)
}

func (a Actor) String() string {
	switch a.Kind {
	case ActorStaff:
		return "staff:" + a.Role
	case ActorOwner:
		return a.Identity.Key()
	}
	return string(a.Kind)
}
