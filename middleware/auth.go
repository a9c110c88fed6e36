package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nadeko0/wirechat/tools/errs"
	"github.com/nadeko0/wirechat/tools/security"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "session"

const ctxUserIDKey = "wirechat.user_id"

// Auth verifies the session token from the cookie or an
// Authorization: Bearer header and stores the verified user id in the
// request context. Requests with no valid identity are rejected before
// any upgrade or handler runs.
func Auth(opts security.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if ck, err := c.Cookie(SessionCookie); err == nil {
			token = strings.TrimSpace(ck)
		}
		if token == "" {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
			return
		}

		uid, err := security.Verify(opts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
			return
		}

		c.Set(ctxUserIDKey, uid)
		c.Next()
	}
}

// UserID reads the verified user id set by Auth.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxUserIDKey)
	if !ok {
		return 0, false
	}
	uid, ok := v.(int64)
	return uid, ok && uid > 0
}
