// README: Caller identity from X-Actor-Type / X-Actor-ID headers set by the upstream gateway.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/types"
)

const (
	HeaderActorType = "X-Actor-Type"
	HeaderActorID   = "X-Actor-ID"

	actorKey = "actor"
)

// Actor reads the caller headers. A missing type defaults to system; an
// unknown type or a non-system caller without an id is rejected.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		typ := booking.ActorType(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorType))))
		id := types.ID(strings.TrimSpace(c.GetHeader(HeaderActorID)))
		switch typ {
		case "":
			typ = booking.ActorSystem
		case booking.ActorSystem, booking.ActorDriver, booking.ActorAdmin, booking.ActorPassenger:
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown actor type"})
			return
		}
		if typ != booking.ActorSystem && id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing actor id"})
			return
		}
		c.Set(actorKey, booking.Actor{Type: typ, ID: types.IDPtr(id)})
		c.Next()
	}
}

// Caller returns the actor stored by Actor, or the system actor.
func Caller(c *gin.Context) booking.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(booking.Actor); ok {
			return a
		}
	}
	return booking.SystemActor()
}

// CallerID returns the caller id, or "" for the system actor.
func CallerID(c *gin.Context) types.ID {
	if a := Caller(c); a.ID != nil {
		return *a.ID
	}
	return ""
}

// RequireAdmin lets only admin callers through.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Caller(c).Type != booking.ActorAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

// RequireDriverParam lets through the driver named by the :driverID path
// parameter, and admins acting on their behalf.
func RequireDriverParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := Caller(c)
		if a.Type == booking.ActorAdmin {
			c.Next()
			return
		}
		if a.Type != booking.ActorDriver || a.ID == nil || string(*a.ID) != c.Param("driverID") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "driver mismatch"})
			return
		}
		c.Next()
	}
}
