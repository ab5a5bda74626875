package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"selene.app/actioncore/common/logger"
)

type contextKey string

const (
	TenantHeader                = "X-Tenant-ID"
	tenantContextKey contextKey = "tenant_id"
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// RequireTenant rejects requests without a well-formed X-Tenant-ID and puts the
// tenant on the request context and its log fields.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantHeader)
		if !tenantPattern.MatchString(tenantID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing or invalid " + TenantHeader + " header"})
			return
		}

		ctx := context.WithValue(c.Request.Context(), tenantContextKey, tenantID)
		ctx = logger.WithLogFields(ctx, logger.LogFields{TenantID: logger.Ptr(tenantID)})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func GetTenant(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantContextKey).(string)
	return tenantID
}
