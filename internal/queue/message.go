package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"selene.app/actioncore/internal/model"
)

// Message is one gap review decision read from the review stream.
type Message struct {
	ID            string
	TenantID      string
	GapID         int64
	ResolutionRef string
	Note          string
	Attempt       int
	TraceID       string
	LastError     string
	Raw           redis.XMessage
}

// MessageProcessor handles one review message.
type MessageProcessor func(ctx context.Context, msg Message) error

func (m Message) Review() model.GapReview {
	return model.GapReview{
		TenantID:      m.TenantID,
		GapID:         m.GapID,
		ResolutionRef: m.ResolutionRef,
		Note:          m.Note,
	}
}

// ParseMessage reads a review decision from stream values. tenant_id, gap_id
// and resolution_ref are required; attempt defaults to 1.
func ParseMessage(msg redis.XMessage) (Message, error) {
	tenantID, err := parseString(msg.Values, "tenant_id")
	if err != nil {
		return Message{}, err
	}
	gapID, err := parseInt64(msg.Values, "gap_id")
	if err != nil {
		return Message{}, err
	}
	ref, err := parseString(msg.Values, "resolution_ref")
	if err != nil {
		return Message{}, err
	}
	if tenantID == "" || ref == "" {
		return Message{}, fmt.Errorf("empty tenant_id or resolution_ref")
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Message{
		ID:            msg.ID,
		TenantID:      tenantID,
		GapID:         gapID,
		ResolutionRef: ref,
		Note:          parseOptionalString(msg.Values, "note"),
		Attempt:       attempt,
		TraceID:       parseOptionalString(msg.Values, "trace_id"),
		LastError:     parseOptionalString(msg.Values, "last_error"),
		Raw:           msg,
	}, nil
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func reviewValues(review model.GapReview, attempt int) map[string]any {
	values := map[string]any{
		"tenant_id":      review.TenantID,
		"gap_id":         review.GapID,
		"resolution_ref": review.ResolutionRef,
		"attempt":        attempt,
	}
	if review.Note != "" {
		values["note"] = review.Note
	}
	return values
}

func messageValues(msg Message, attempt int) map[string]any {
	values := reviewValues(msg.Review(), attempt)
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values
}
