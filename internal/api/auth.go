package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const playerKey = "player"

// playerIdentity extracts the verified player identity the signature
// gateway attached upstream. Verification itself is a capability
// boundary: by the time a request reaches us the identity is a fact,
// not a claim to re-check.
func playerIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		player := strings.TrimSpace(c.GetHeader("X-Player-Id"))
		if player == "" {
			player = strings.TrimSpace(c.Query("player"))
		}
		if player == "" || len(player) > 128 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing player identity"})
			return
		}
		c.Set(playerKey, player)
		c.Next()
	}
}

func playerFrom(c *gin.Context) string {
	return c.GetString(playerKey)
}

// operatorAuth guards operator endpoints with an HS256 bearer token
// carrying the expected audience.
func operatorAuth(secret, audience string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("operator", claims.Subject)
		c.Next()
	}
}
