package identity

import (
	"errors"
	"strings"
)

var ErrInvalid = errors.New("identity must carry exactly one of user id or guest token")

// Identity is the owner of an order as supplied by the auth layer: an
// authenticated user id or an opaque guest session token, never both.
type Identity struct {
	UserID     string `json:"user_id,omitempty"`
	GuestToken string `json:"guest_token,omitempty"`
}

func User(id string) Identity   { return Identity{UserID: id} }
func Guest(tok string) Identity { return Identity{GuestToken: tok} }

func (i Identity) Validate() error {
	hasUser := strings.TrimSpace(i.UserID) != ""
	hasGuest := strings.TrimSpace(i.GuestToken) != ""
	if hasUser == hasGuest {
		return ErrInvalid
	}
	return nil
}

func (i Identity) IsZero() bool { return i.UserID == "" && i.GuestToken == "" }

// Key is stable across requests and is used for per-identity promotion caps.
func (i Identity) Key() string {
	if i.UserID != "" {
		return "user:" + i.UserID
	}
	if i.GuestToken != "" {
		return "guest:" + i.GuestToken
	}
	return ""
}

func (i Identity) Equal(o Identity) bool {
	return !i.IsZero() && i.Key() == o.Key()
}
