package realtime

import (
	"strings"

	"github.com/Skotchmaster/restaurant/internal/identity"
)

// Group is a routing key. Groups are computed per connection and never
// persisted.
type Group string

func UserGroup(id string) Group        { return Group("user:" + id) }
func GuestGroup(token string) Group    { return Group("guest:" + token) }
func RoleGroup(role string) Group      { return Group("role:" + role) }
func PromotionGroup(code string) Group { return Group("promo:" + strings.ToUpper(code)) }

func OwnerGroup(id identity.Identity) (Group, bool) {
	switch {
	case id.UserID != "":
		return UserGroup(id.UserID), true
	case id.GuestToken != "":
		return GuestGroup(id.GuestToken), true
	}
	return "", false
}

// Router maps an event to the groups that must receive it.
type Router struct {
	StaffRoles []string
}

func (r Router) staff() []Group {
	out := make([]Group, 0, len(r.StaffRoles))
	for _, role := range r.StaffRoles {
		out = append(out, RoleGroup(role))
	}
	return out
}

func (r Router) Groups(ev Event) []Group {
	switch e := ev.(type) {
	case OrderCreated:
		return r.staff()
	case OrderStatusChanged:
		return r.withOwner(e.Order.Owner())
	case OrderUpdated:
		return r.withOwner(e.Order.Owner())
	case ItemStatusChanged:
		return r.withOwner(e.Owner)
	case PromotionQuotaReleased:
		return []Group{PromotionGroup(e.Code)}
	case PromotionQuotaExhausted:
		return []Group{PromotionGroup(e.Code)}
	}
	return nil
}

func (r Router) withOwner(owner identity.Identity) []Group {
	groups := r.staff()
	if g, ok := OwnerGroup(owner); ok {
		groups = append(groups, g)
	}
	return groups
}
