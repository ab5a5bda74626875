package router

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"selene.app/actioncore/internal/http/handler"
	"selene.app/actioncore/internal/http/middleware"
	"selene.app/actioncore/internal/service"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Health map[string]HealthCheck
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", health(cfg.Health))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/schema/understanding", handler.UnderstandingSchema)

		tenant := v1.Group("")
		tenant.Use(middleware.RequireTenant())

		resolveHandler := handler.NewResolveHandler(services.Resolution())
		tenant.POST("/resolve", resolveHandler.Resolve)

		planHandler := handler.NewPlanHandler(services.Plans())
		PlanRouter(tenant.Group("/plans"), planHandler)
	}
}

func health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		results := gin.H{}
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
