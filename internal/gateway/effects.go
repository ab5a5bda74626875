package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/internal/model"
)

type EffectExecutor struct {
	c client
}

func NewEffectExecutor(baseURL string, timeout time.Duration, hc *http.Client) *EffectExecutor {
	return &EffectExecutor{c: newClient(baseURL, timeout, hc)}
}

// Dispatch sends one envelope. A 4xx reply is a definite terminal outcome; any
// other failure is returned as an error so the step stays executing and is
// resent with the same idempotency key.
func (e *EffectExecutor) Dispatch(ctx context.Context, env model.DispatchEnvelope) (model.DispatchOutcome, error) {
	sc := logger.StartSpan(ctx, "gateway.effects.dispatch")
	defer sc.End()
	ctx = sc.Context()

	var out model.DispatchOutcome
	err := e.c.post(ctx, "/v1/dispatch", env, &out)
	switch {
	case errors.Is(err, ErrRejected):
		slog.WarnContext(ctx, "dispatch rejected by executor",
			"capability_id", env.CapabilityID,
			"error", err)
		return model.DispatchOutcome{Status: model.DispatchFailedTerminal, Detail: logger.Truncate(err.Error(), 200)}, nil
	case err != nil:
		sc.RecordError(err)
		return model.DispatchOutcome{}, err
	}

	slog.InfoContext(ctx, "dispatch completed",
		"capability_id", env.CapabilityID,
		"attempt", env.Attempt,
		"status", out.Status)
	return out, nil
}
