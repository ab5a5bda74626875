package logger

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with a context that carries them.
type LogFields struct {
	TenantID  *string // Tenant the request belongs to
	CycleID   *string // Resolution cycle (stable across clarification turns)
	PlanID    *int64
	StepID    *int64
	GapID     *int64
	MessageID *string // Redis stream message ID
	Component string  // e.g. "actioncore.executor.advance"
}

// WithLogFields merges fields into ctx; non-empty values in fields win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields returns the fields on ctx, or the zero value.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	override(&existing.TenantID, next.TenantID)
	override(&existing.CycleID, next.CycleID)
	override(&existing.PlanID, next.PlanID)
	override(&existing.StepID, next.StepID)
	override(&existing.GapID, next.GapID)
	override(&existing.MessageID, next.MessageID)
	if next.Component != "" {
		existing.Component = next.Component
	}
	return existing
}

func override[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}

// logAttrs lists the set fields in a fixed order so records stay diffable.
func (f LogFields) logAttrs() []slog.Attr {
	var attrs []slog.Attr
	for _, s := range f.strings() {
		attrs = append(attrs, slog.String(s.key, s.val))
	}
	for _, n := range f.ints() {
		attrs = append(attrs, slog.Int64(n.key, n.val))
	}
	return attrs
}

func (f LogFields) spanAttrs() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, s := range f.strings() {
		attrs = append(attrs, attribute.String("actioncore."+s.key, s.val))
	}
	for _, n := range f.ints() {
		attrs = append(attrs, attribute.Int64("actioncore."+n.key, n.val))
	}
	return attrs
}

type field[T any] struct {
	key string
	val T
}

func (f LogFields) strings() []field[string] {
	var out []field[string]
	for _, c := range []struct {
		key string
		val *string
	}{
		{"tenant_id", f.TenantID},
		{"cycle_id", f.CycleID},
		{"message_id", f.MessageID},
	} {
		if c.val != nil {
			out = append(out, field[string]{c.key, *c.val})
		}
	}
	if f.Component != "" {
		out = append(out, field[string]{"component", f.Component})
	}
	return out
}

func (f LogFields) ints() []field[int64] {
	var out []field[int64]
	for _, c := range []struct {
		key string
		val *int64
	}{
		{"plan_id", f.PlanID},
		{"step_id", f.StepID},
		{"gap_id", f.GapID},
	} {
		if c.val != nil {
			out = append(out, field[int64]{c.key, *c.val})
		}
	}
	return out
}

// Ptr returns a pointer to v, for inline LogFields literals.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate cuts s to maxLen bytes and appends "..." when it was longer.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
