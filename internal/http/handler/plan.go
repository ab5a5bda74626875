package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"selene.app/actioncore/internal/executor"
	"selene.app/actioncore/internal/http/dto"
	"selene.app/actioncore/internal/http/middleware"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/service"
)

type PlanHandler struct {
	plans service.PlanService
}

func NewPlanHandler(plans service.PlanService) *PlanHandler {
	return &PlanHandler{plans: plans}
}

func planID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, fmt.Errorf("%w: plan id %q", model.ErrInvalidInput, c.Param("id")), "plan")
		return 0, false
	}
	return id, true
}

func (h *PlanHandler) Get(c *gin.Context) {
	id, ok := planID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	view, err := h.plans.Get(ctx, middleware.GetTenant(ctx), id)
	if err != nil {
		respondError(c, err, "get plan")
		return
	}
	c.JSON(http.StatusOK, dto.PlanResponse{Plan: view.State.Plan, Steps: view.State.Steps, Next: view.Next})
}

func (h *PlanHandler) Advance(c *gin.Context) {
	id, ok := planID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var req dto.AdvanceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := h.plans.Advance(ctx, executor.Turn{
		TenantID:  middleware.GetTenant(ctx),
		PlanID:    id,
		Utterance: req.Utterance,
		Language:  req.Language,
		Fields:    req.Fields,
	})
	if err != nil {
		respondError(c, err, "advance plan")
		return
	}
	c.JSON(http.StatusOK, dto.ToAdvanceResponse(res))
}

func (h *PlanHandler) Cancel(c *gin.Context) {
	id, ok := planID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	res, err := h.plans.Cancel(ctx, middleware.GetTenant(ctx), id)
	if err != nil {
		respondError(c, err, "cancel plan")
		return
	}
	c.JSON(http.StatusOK, dto.ToAdvanceResponse(res))
}

// Replay rebuilds the plan from its events and reports whether the stored
// projection agrees. Divergence is a 422.
func (h *PlanHandler) Replay(c *gin.Context) {
	id, ok := planID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	report, err := h.plans.Replay(ctx, middleware.GetTenant(ctx), id)
	if err != nil {
		respondError(c, err, "replay plan")
		return
	}
	c.JSON(http.StatusOK, dto.ReplayResponse{
		PlanID: id,
		Status: report.State.Plan.Status,
		Events: report.Events,
		Match:  true,
	})
}

func (h *PlanHandler) ListOperatorRequired(c *gin.Context) {
	ctx := c.Request.Context()

	plans, err := h.plans.ListOperatorRequired(ctx, middleware.GetTenant(ctx))
	if err != nil {
		respondError(c, err, "list plans")
		return
	}
	if plans == nil {
		plans = []model.Plan{}
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
