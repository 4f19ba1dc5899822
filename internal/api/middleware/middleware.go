// Package middleware holds the Gin middleware shared across every dialect
// route: CORS, the request body-size ceiling, and bearer-token auth.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ccgateway/cloudcode-gateway/internal/apierrors"
	"github.com/ccgateway/cloudcode-gateway/internal/config"
)

// maxBodyBytes is the request body-size ceiling; requests whose declared
// Content-Length exceeds it are rejected with 413 before any
// dialect-specific parsing runs.
const maxBodyBytes = 100 << 20 // 100 MiB

// CORS allows any origin, since the gateway is a local-only service and the
// callers hitting it are CLI tools and browser-based IDE extensions running
// on the same machine.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// BodyLimit rejects requests whose declared Content-Length is larger than
// maxBodyBytes with 413. A body sent without a declared length is cut off
// at maxBodyBytes, so the handler's read of it fails.
func BodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBodyBytes {
			apiErr := &apierrors.Error{
				Kind:       apierrors.KindInvalidRequest,
				StatusCode: http.StatusRequestEntityTooLarge,
				Message:    "request body exceeds the 100 MiB limit",
			}
			body, _ := apiErr.JSON()
			c.Data(apiErr.StatusCode, "application/json", body)
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	}
}

// Auth enforces the shared-secret bearer check. When the configured secret
// is empty, auth is disabled entirely (the documented, not-recommended
// configuration).
func Auth(store *config.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := store.Get().APIKey
		if secret == "" {
			c.Next()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		token := header
		if strings.HasPrefix(strings.ToLower(header), "bearer ") {
			token = strings.TrimSpace(header[len("bearer "):])
		}
		if token == "" {
			token = c.Query("key") // Gemini-native clients pass the key as a query param
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			apiErr := apierrors.AuthRequired("missing or invalid bearer token")
			body, _ := apiErr.JSON()
			c.Data(apiErr.StatusCode, "application/json", body)
			c.Abort()
			return
		}
		c.Set("bearerToken", token)
		c.Next()
	}
}
