package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"selene.app/actioncore/internal/executor"
	"selene.app/actioncore/internal/http/handler"
	"selene.app/actioncore/internal/http/middleware"
	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/projection"
	"selene.app/actioncore/internal/service"
	"selene.app/actioncore/internal/store"
)

var _ = Describe("Handlers", func() {
	var (
		router     *gin.Engine
		resolution *mockResolutionService
		plans      *mockPlanService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		resolution = &mockResolutionService{}
		plans = &mockPlanService{}

		router.GET("/schema", handler.UnderstandingSchema)
		api := router.Group("")
		api.Use(middleware.RequireTenant())

		rh := handler.NewResolveHandler(resolution)
		api.POST("/resolve", rh.Resolve)

		ph := handler.NewPlanHandler(plans)
		api.GET("/plans/operator-required", ph.ListOperatorRequired)
		api.GET("/plans/:id", ph.Get)
		api.POST("/plans/:id/advance", ph.Advance)
		api.POST("/plans/:id/cancel", ph.Cancel)
		api.GET("/plans/:id/replay", ph.Replay)
	})

	do := func(method, path string, body any, tenant string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if tenant != "" {
			req.Header.Set(middleware.TenantHeader, tenant)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) map[string]any {
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	validBody := func() map[string]any {
		return map[string]any{
			"user_id":           "u1",
			"cycle_id":          "c1",
			"turn":              1,
			"language":          "en",
			"intent":            "payment.send",
			"intent_confidence": 9000,
			"fields":            map[string]string{"amount": "5 EUR"},
			"artifact":          map[string]string{"kind": "transcript", "id": "tr1", "version": "1"},
		}
	}

	Describe("tenant header", func() {
		It("returns 400 without X-Tenant-ID", func() {
			w := do(http.MethodPost, "/resolve", validBody(), "")
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)["error"]).To(ContainSubstring("X-Tenant-ID"))
		})

		It("returns 400 for a malformed tenant", func() {
			w := do(http.MethodGet, "/plans/1", nil, "bad tenant!")
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Resolve", func() {
		It("returns 201 with the packet and the opened plan on a match", func() {
			var got service.ResolveRequest
			resolution.resolveFn = func(_ context.Context, req service.ResolveRequest) (service.ResolveResult, error) {
				got = req
				state := projection.PlanState{
					Plan:  model.Plan{ID: 9, TenantID: "t1", Status: model.PlanWaitingConfirm},
					Steps: []model.Step{{ID: 10, PlanID: 9, CapabilityID: "payment.send", Status: model.StepWaitingConfirm}},
				}
				return service.ResolveResult{
					Packet: model.Packet{Kind: model.PacketMatch, Reason: model.ReasonDirectMatch, Match: &model.MatchResult{PlanID: 9}},
					Plan:   &state,
				}, nil
			}

			w := do(http.MethodPost, "/resolve", validBody(), "t1")
			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(got.Understanding.TenantID).To(Equal("t1"))
			Expect(got.Understanding.Fields).To(HaveKeyWithValue("amount", "5 EUR"))

			resp := decode(w)
			Expect(resp["packet"]).To(HaveKeyWithValue("kind", "match"))
			plan := resp["plan"].(map[string]any)
			Expect(plan["next"]).To(HaveKeyWithValue("kind", "confirm"))
		})

		It("returns 200 for non-match packets", func() {
			resolution.resolveFn = func(context.Context, service.ResolveRequest) (service.ResolveResult, error) {
				return service.ResolveResult{Packet: model.Packet{Kind: model.PacketCapabilityGap, Gap: &model.GapResult{GapID: 3}}}, nil
			}
			w := do(http.MethodPost, "/resolve", validBody(), "t1")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)).NotTo(HaveKey("plan"))
		})

		It("decodes hints and rejects invalid ones", func() {
			body := validBody()
			body["hints"] = []map[string]any{{"kind": "identity", "artifact": map[string]string{"kind": "idp", "id": "a", "version": "1"}}}
			w := do(http.MethodPost, "/resolve", body, "t1")
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)["error"]).To(ContainSubstring("hints[0]"))
		})

		It("returns 400 when required fields are missing", func() {
			body := validBody()
			delete(body, "intent")
			w := do(http.MethodPost, "/resolve", body, "t1")
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("hides internal errors", func() {
			resolution.resolveFn = func(context.Context, service.ResolveRequest) (service.ResolveResult, error) {
				return service.ResolveResult{}, errors.New("pg: connection refused")
			}
			w := do(http.MethodPost, "/resolve", validBody(), "t1")
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).NotTo(ContainSubstring("connection refused"))
		})
	})

	Describe("Plans", func() {
		It("returns the plan with its next action", func() {
			plans.getFn = func(_ context.Context, tenantID string, planID int64) (service.PlanView, error) {
				Expect(tenantID).To(Equal("t1"))
				Expect(planID).To(Equal(int64(9)))
				return service.PlanView{
					State: projection.PlanState{Plan: model.Plan{ID: 9, Status: model.PlanReady}},
					Next:  model.PendingAction{Kind: model.ActionDispatch, StepID: 10},
				}, nil
			}
			w := do(http.MethodGet, "/plans/9", nil, "t1")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["next"]).To(HaveKeyWithValue("kind", "dispatch"))
		})

		It("returns 404 for unknown plans", func() {
			plans.getFn = func(context.Context, string, int64) (service.PlanView, error) {
				return service.PlanView{}, store.ErrNotFound
			}
			Expect(do(http.MethodGet, "/plans/9", nil, "t1").Code).To(Equal(http.StatusNotFound))
		})

		It("returns 400 for a non numeric id", func() {
			Expect(do(http.MethodGet, "/plans/abc", nil, "t1").Code).To(Equal(http.StatusBadRequest))
		})

		It("passes the user turn to advance", func() {
			var got executor.Turn
			plans.advanceFn = func(_ context.Context, turn executor.Turn) (executor.Result, error) {
				got = turn
				return executor.Result{
					State:  projection.PlanState{Plan: model.Plan{ID: 9, Status: model.PlanCancelled}},
					Reason: model.ReasonConfirmationDeclined,
				}, nil
			}
			w := do(http.MethodPost, "/plans/9/advance", map[string]any{"utterance": "no thanks", "fields": map[string]string{"recipient": "ana"}}, "t1")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(got).To(Equal(executor.Turn{TenantID: "t1", PlanID: 9, Utterance: "no thanks", Fields: map[string]string{"recipient": "ana"}}))

			resp := decode(w)
			Expect(resp["reason"]).To(Equal("confirmation_declined"))
			Expect(resp["message"]).NotTo(BeEmpty())
		})

		It("accepts an advance without a body", func() {
			req := httptest.NewRequest(http.MethodPost, "/plans/9/advance", nil)
			req.Header.Set(middleware.TenantHeader, "t1")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
		})

		DescribeTable("maps advance errors to status codes",
			func(err error, status int) {
				plans.advanceFn = func(context.Context, executor.Turn) (executor.Result, error) {
					return executor.Result{}, err
				}
				Expect(do(http.MethodPost, "/plans/9/advance", map[string]any{}, "t1").Code).To(Equal(status))
			},
			Entry("conflict", fmt.Errorf("commit: %w", model.ErrConflict), http.StatusConflict),
			Entry("closed", model.ErrPlanClosed, http.StatusConflict),
			Entry("transition", model.ErrInvalidTransition, http.StatusConflict),
			Entry("integrity", model.ErrReplayIntegrity, http.StatusUnprocessableEntity),
			Entry("invalid", model.ErrInvalidInput, http.StatusBadRequest),
			Entry("other", errors.New("boom"), http.StatusInternalServerError),
		)

		It("returns 409 when the plan cannot be cancelled", func() {
			plans.cancelFn = func(context.Context, string, int64) (executor.Result, error) {
				return executor.Result{}, model.ErrNotCancellable
			}
			Expect(do(http.MethodPost, "/plans/9/cancel", nil, "t1").Code).To(Equal(http.StatusConflict))
		})

		It("reports a matching replay", func() {
			plans.replayFn = func(context.Context, string, int64) (service.ReplayReport, error) {
				return service.ReplayReport{State: projection.PlanState{Plan: model.Plan{ID: 9, Status: model.PlanCompleted}}, Events: 12}, nil
			}
			w := do(http.MethodGet, "/plans/9/replay", nil, "t1")
			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp["match"]).To(BeTrue())
			Expect(resp["events"]).To(BeNumerically("==", 12))
		})

		It("returns 422 when replay diverges", func() {
			plans.replayFn = func(context.Context, string, int64) (service.ReplayReport, error) {
				return service.ReplayReport{}, fmt.Errorf("%w: projection differs", model.ErrReplayIntegrity)
			}
			Expect(do(http.MethodGet, "/plans/9/replay", nil, "t1").Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("lists operator plans as an empty array when there are none", func() {
			w := do(http.MethodGet, "/plans/operator-required", nil, "t1")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"plans":[]`))
		})
	})

	Describe("UnderstandingSchema", func() {
		It("publishes the resolve request schema", func() {
			w := do(http.MethodGet, "/schema", nil, "")
			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp["title"]).To(Equal("Understanding"))
			Expect(resp["properties"]).To(HaveKey("intent"))
			Expect(resp["required"]).To(ContainElement("cycle_id"))
		})
	})
})
