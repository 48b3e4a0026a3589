package auth

import (
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

func SetIdentity(c *gin.Context, id domain.Identity) {
	c.Set(identityKey, id)
}

func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	id, ok := v.(domain.Identity)
	return id, ok
}
