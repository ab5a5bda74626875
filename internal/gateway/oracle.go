package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"selene.app/actioncore/common/logger"
	"selene.app/actioncore/internal/model"
)

type AccessOracle struct {
	c client
}

func NewAccessOracle(baseURL string, timeout time.Duration, hc *http.Client) *AccessOracle {
	return &AccessOracle{c: newClient(baseURL, timeout, hc)}
}

// Decide asks the oracle for one action. An unknown decision in the response
// is an error; the caller never guesses allow.
func (o *AccessOracle) Decide(ctx context.Context, req model.AccessRequest) (model.AccessResult, error) {
	sc := logger.StartSpan(ctx, "gateway.access.decide")
	defer sc.End()
	ctx = sc.Context()

	var res model.AccessResult
	if err := o.c.post(ctx, "/v1/decide", req, &res); err != nil {
		sc.RecordError(err)
		return model.AccessResult{}, err
	}
	if !res.Decision.Valid() {
		err := fmt.Errorf("%w: access decision %q", ErrUnavailable, res.Decision)
		sc.RecordError(err)
		return model.AccessResult{}, err
	}

	slog.DebugContext(ctx, "access decided",
		"action", req.Action,
		"decision", res.Decision,
		"decision_ref", res.DecisionRef)
	return res, nil
}
