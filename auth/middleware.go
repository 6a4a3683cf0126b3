package auth

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey         = "userID"
	SessionCookieName = "session"
)

// RequireUser rejects requests without a valid session. The token is taken
// from the Authorization header, the session cookie, or, for websocket and
// EventSource clients that cannot set headers, the token query parameter.
func RequireUser(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "You need to log in first"})
			return
		}

		userID, err := tokens.ParseToken(tokenString)
		if err != nil {
			log.Printf("Rejected session for %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Your session is invalid, please log in again"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// CurrentUser returns the caller id set by RequireUser.
func CurrentUser(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// RedactToken replaces the token query parameter of a logged request path.
func RedactToken(path string) string {
	i := strings.IndexByte(path, '?')
	if i < 0 {
		return path
	}
	query, err := url.ParseQuery(path[i+1:])
	if err != nil || !query.Has("token") {
		return path
	}
	query.Set("token", "REDACTED")
	return path[:i+1] + query.Encode()
}

// LogFormatter is gin's access log line with session tokens redacted.
func LogFormatter(p gin.LogFormatterParams) string {
	return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
		p.TimeStamp.Format("2006/01/02 - 15:04:05"),
		p.StatusCode,
		p.Latency,
		p.ClientIP,
		p.Method,
		RedactToken(p.Path),
		p.ErrorMessage,
	)
}
