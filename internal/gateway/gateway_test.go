package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"selene.app/actioncore/internal/gateway"
	"selene.app/actioncore/internal/model"
)

var _ = Describe("Gateway clients", func() {
	var (
		ctx     context.Context
		handler http.HandlerFunc
		server  *httptest.Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			handler(w, r)
		}))
		DeferCleanup(server.Close)
	})

	reply := func(status int, body any) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
		}
	}

	Describe("AccessOracle", func() {
		It("posts the request and returns the decision", func() {
			var got model.AccessRequest
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/v1/decide"))
				Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
				reply(http.StatusOK, model.AccessResult{Decision: model.AccessEscalate, DecisionRef: "acl:7"})(w, r)
			}
			oracle := gateway.NewAccessOracle(server.URL+"/", time.Second, nil)

			res, err := oracle.Decide(ctx, model.AccessRequest{TenantID: "t1", SubjectID: "u1", Action: "payments:send", PolicyRef: "policy:default@1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(model.AccessResult{Decision: model.AccessEscalate, DecisionRef: "acl:7"}))
			Expect(got.Action).To(Equal("payments:send"))
		})

		It("rejects an unknown decision", func() {
			handler = reply(http.StatusOK, map[string]string{"decision": "probably"})
			oracle := gateway.NewAccessOracle(server.URL, time.Second, nil)

			_, err := oracle.Decide(ctx, model.AccessRequest{TenantID: "t1"})
			Expect(err).To(MatchError(gateway.ErrUnavailable))
		})

		It("reports server errors as unavailable", func() {
			handler = reply(http.StatusBadGateway, map[string]string{"error": "upstream"})
			oracle := gateway.NewAccessOracle(server.URL, time.Second, nil)

			_, err := oracle.Decide(ctx, model.AccessRequest{TenantID: "t1"})
			Expect(err).To(MatchError(gateway.ErrUnavailable))
			Expect(err.Error()).To(ContainSubstring("502"))
		})
	})

	Describe("EffectExecutor", func() {
		env := model.DispatchEnvelope{
			TenantID:       "t1",
			PlanID:         1,
			StepID:         2,
			CapabilityID:   "payment.send",
			IdempotencyKey: "idem_abc",
			Attempt:        1,
		}

		It("sends the envelope and returns the outcome", func() {
			var got model.DispatchEnvelope
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/v1/dispatch"))
				Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
				Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
				reply(http.StatusOK, model.DispatchOutcome{Status: model.DispatchSucceeded, ProofRef: "fx:1"})(w, r)
			}
			fx := gateway.NewEffectExecutor(server.URL, time.Second, nil)

			out, err := fx.Dispatch(ctx, env)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Status).To(Equal(model.DispatchSucceeded))
			Expect(got).To(Equal(env))
		})

		It("turns a 4xx into a terminal outcome", func() {
			handler = reply(http.StatusUnprocessableEntity, map[string]string{"error": "bad account"})
			fx := gateway.NewEffectExecutor(server.URL, time.Second, nil)

			out, err := fx.Dispatch(ctx, env)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Status).To(Equal(model.DispatchFailedTerminal))
			Expect(out.Detail).To(ContainSubstring("bad account"))
		})

		It("returns an error when the outcome is unknown", func() {
			handler = reply(http.StatusServiceUnavailable, nil)
			fx := gateway.NewEffectExecutor(server.URL, time.Second, nil)

			_, err := fx.Dispatch(ctx, env)
			Expect(err).To(MatchError(gateway.ErrUnavailable))
		})

		It("returns an error when the executor cannot be reached", func() {
			fx := gateway.NewEffectExecutor("http://127.0.0.1:1", 200*time.Millisecond, nil)

			_, err := fx.Dispatch(ctx, env)
			Expect(err).To(MatchError(gateway.ErrUnavailable))
		})
	})
})
