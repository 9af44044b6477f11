package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	sessionCookieName = "infra-dashboard-session"
	sessionMaxAge     = 7 * 24 * time.Hour
)

// CreateSessionToken builds the opaque cookie value: base64 of
// "<epoch-millis>:valid". The password itself never leaves the server.
func CreateSessionToken(now time.Time) string {
	raw := fmt.Sprintf("%d:valid", now.UnixMilli())
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// ValidateSessionToken checks the marker and the 7-day expiry.
func ValidateSessionToken(token string, now time.Time) bool {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return false
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[1] != "valid" {
		return false
	}

	issued, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return false
	}

	age := now.UnixMilli() - issued
	return age >= 0 && age <= sessionMaxAge.Milliseconds()
}

// authMiddleware gates requests behind the session cookie. When no
// dashboard password is configured the gate is disabled entirely.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.DashboardPassword == "" {
			c.Next()
			return
		}

		token, err := c.Cookie(sessionCookieName)
		if err != nil || !ValidateSessionToken(token, time.Now()) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password is required"})
		return
	}

	if s.config.DashboardPassword != "" && body.Password != s.config.DashboardPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
		return
	}

	token := CreateSessionToken(time.Now())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, token, int(sessionMaxAge.Seconds()), "/", "", s.config.Environment == "production", true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleLoginStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"passwordRequired": s.config.DashboardPassword != ""})
}

func (s *Server) handleLogout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, "", -1, "/", "", s.config.Environment == "production", true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
