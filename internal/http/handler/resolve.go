package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"selene.app/actioncore/internal/http/dto"
	"selene.app/actioncore/internal/http/middleware"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/service"
)

type ResolveHandler struct {
	resolution service.ResolutionService
}

func NewResolveHandler(resolution service.ResolutionService) *ResolveHandler {
	return &ResolveHandler{resolution: resolution}
}

// Resolve runs one resolution cycle turn and returns its packet, plus the
// opened plan on a match.
func (h *ResolveHandler) Resolve(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := req.ToUnderstanding(middleware.GetTenant(ctx))
	if err != nil {
		respondError(c, err, "resolve")
		return
	}

	out, err := h.resolution.Resolve(ctx, service.ResolveRequest{
		Understanding:  u,
		CatalogVersion: req.CatalogVersion,
		PolicyVersion:  req.PolicyVersion,
	})
	if err != nil {
		respondError(c, err, "resolve")
		return
	}

	resp := dto.ResolveResponse{Packet: out.Packet}
	if out.Plan != nil {
		resp.Plan = dto.ToPlanResponse(*out.Plan)
	}

	status := http.StatusOK
	if out.Packet.Kind == model.PacketMatch {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}
