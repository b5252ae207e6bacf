package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"invoice-service/internal/models"
	"invoice-service/internal/service"
	"invoice-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const ctxActor = "actor"

// Roles that may act on any customer's invoices
var privilegedRoles = map[string]bool{
	"staff": true,
	"admin": true,
}

// Claims are the access token claims; Subject is the user id
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// CustomerLookup resolves the customer profile of a user
type CustomerLookup interface {
	GetCustomerByUserID(ctx context.Context, userID string) (*models.Customer, error)
}

func parseToken(tokenStr string, secret []byte) (*Claims, error) {
	var claims Claims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	return &claims, nil
}

// authMiddleware authenticates the bearer token and stores the caller's Actor
func authMiddleware(secret []byte, customers CustomerLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" || len(secret) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing access token"})
			return
		}

		claims, err := parseToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		if claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}

		actor := service.Actor{
			UserID:     claims.Subject,
			Privileged: privilegedRoles[claims.Role],
		}

		customer, err := customers.GetCustomerByUserID(c.Request.Context(), claims.Subject)
		switch {
		case err == nil:
			actor.CustomerID = customer.ID
		case !errors.Is(err, store.ErrNotFound):
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(ctxActor, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) service.Actor {
	actor, _ := c.Get(ctxActor)
	a, _ := actor.(service.Actor)
	return a
}
