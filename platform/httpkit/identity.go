package httpkit

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the caller as established by AuthRequired.
type Identity interface {
	// UserID returns the token subject, uuid.Nil when unauthenticated.
	UserID() uuid.UUID
	// IsAuthenticated reports whether a valid access token was presented.
	IsAuthenticated() bool
}

type identity struct {
	userID uuid.UUID
}

func (i identity) UserID() uuid.UUID {
	return i.userID
}

func (i identity) IsAuthenticated() bool {
	return i.userID != uuid.Nil
}

// GetIdentity reads the caller from the gin context. Routes outside the
// protected group, or a server without JWT configured, yield an
// unauthenticated identity.
func GetIdentity(c *gin.Context) Identity {
	raw, ok := c.Get(ContextUserIDKey)
	if !ok {
		return identity{}
	}
	uid, _ := raw.(uuid.UUID)
	return identity{userID: uid}
}

// Actor returns the caller's user ID for audit columns, or nil when the
// request is anonymous.
func Actor(c *gin.Context) *uuid.UUID {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		return nil
	}
	userID := id.UserID()
	return &userID
}
