package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"selene.app/actioncore/internal/model"
)

// ErrNoSnapshot is returned when no snapshot of a kind has been published at all.
var ErrNoSnapshot = errors.New("no snapshot available")

// Bundle is every snapshot known to the registry at one point in time.
type Bundle struct {
	Catalogs  []model.CatalogSnapshot
	Policies  []model.PolicySnapshot
	Templates []model.TemplateSet
	Lexicons  []model.ConfirmationLexicon
}

func (b *Bundle) validate() error {
	for _, c := range b.Catalogs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, p := range b.Policies {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	for _, t := range b.Templates {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	for _, l := range b.Lexicons {
		if l.Version == "" {
			return fmt.Errorf("%w: lexicon version is required", model.ErrInvalidInput)
		}
	}
	return nil
}

// Source produces a bundle and a stamp that changes whenever the bundle would.
type Source interface {
	Stamp(ctx context.Context) (string, error)
	Load(ctx context.Context) (*Bundle, error)
}

// Registry serves versioned snapshots. Current lookups use the highest sequence;
// a pinned version that is not present is a replay integrity failure.
type Registry struct {
	src   Source
	group singleflight.Group

	mu     sync.RWMutex
	stamp  string
	bundle *Bundle
}

func NewRegistry(src Source) *Registry {
	return &Registry{src: src}
}

// NewStatic serves a fixed bundle. Useful for tests and embedded defaults.
func NewStatic(b Bundle) *Registry {
	return &Registry{src: staticSource{b: &b}}
}

func (r *Registry) current(ctx context.Context) (*Bundle, error) {
	stamp, err := r.src.Stamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("stat snapshots: %w", err)
	}

	r.mu.RLock()
	if r.bundle != nil && r.stamp == stamp {
		b := r.bundle
		r.mu.RUnlock()
		return b, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(stamp, func() (any, error) {
		b, err := r.src.Load(ctx)
		if err != nil {
			return nil, err
		}
		if err := b.validate(); err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.bundle, r.stamp = b, stamp
		r.mu.Unlock()
		slog.InfoContext(ctx, "snapshots loaded",
			"catalogs", len(b.Catalogs),
			"policies", len(b.Policies),
			"templates", len(b.Templates),
			"lexicons", len(b.Lexicons))
		return b, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	return v.(*Bundle), nil
}

// Catalog returns the catalog with the given version, or the current one when
// version is empty.
func (r *Registry) Catalog(ctx context.Context, version string) (model.CatalogSnapshot, error) {
	b, err := r.current(ctx)
	if err != nil {
		return model.CatalogSnapshot{}, err
	}
	var best *model.CatalogSnapshot
	for i := range b.Catalogs {
		c := &b.Catalogs[i]
		if version != "" {
			if c.Version == version {
				return *c, nil
			}
			continue
		}
		if best == nil || c.Sequence > best.Sequence {
			best = c
		}
	}
	if version != "" {
		return model.CatalogSnapshot{}, fmt.Errorf("%w: catalog version %q not found", model.ErrReplayIntegrity, version)
	}
	if best == nil {
		return model.CatalogSnapshot{}, fmt.Errorf("catalog: %w", ErrNoSnapshot)
	}
	return *best, nil
}

// Policy resolves the policy for a tenant and cohort, falling back through
// (tenant,*), (*,cohort) and (*,*).
func (r *Registry) Policy(ctx context.Context, tenantID, cohort, version string) (model.PolicySnapshot, error) {
	b, err := r.current(ctx)
	if err != nil {
		return model.PolicySnapshot{}, err
	}
	cohort = model.BaseLanguage(cohort)
	scopes := [][2]string{{tenantID, cohort}, {tenantID, "*"}, {"*", cohort}, {"*", "*"}}
	for _, scope := range scopes {
		var best *model.PolicySnapshot
		for i := range b.Policies {
			p := &b.Policies[i]
			if p.TenantID != scope[0] || p.Cohort != scope[1] {
				continue
			}
			if version != "" {
				if p.Version == version {
					return *p, nil
				}
				continue
			}
			if best == nil || p.Sequence > best.Sequence {
				best = p
			}
		}
		if best != nil {
			return *best, nil
		}
	}
	if version != "" {
		return model.PolicySnapshot{}, fmt.Errorf("%w: policy version %q for tenant %s not found", model.ErrReplayIntegrity, version, tenantID)
	}
	return model.PolicySnapshot{}, fmt.Errorf("policy for tenant %s: %w", tenantID, ErrNoSnapshot)
}

// PolicyByRef resolves a reference produced by PolicySnapshot.Ref.
func (r *Registry) PolicyByRef(ctx context.Context, ref string) (model.PolicySnapshot, error) {
	b, err := r.current(ctx)
	if err != nil {
		return model.PolicySnapshot{}, err
	}
	for _, p := range b.Policies {
		if p.Ref() == ref {
			return p, nil
		}
	}
	return model.PolicySnapshot{}, fmt.Errorf("%w: policy %q not found", model.ErrReplayIntegrity, ref)
}

// Templates returns the highest-sequence template set per family.
func (r *Registry) Templates(ctx context.Context) (model.TemplateRegistry, error) {
	b, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	reg := make(model.TemplateRegistry)
	for _, t := range b.Templates {
		if cur, ok := reg[t.Family]; !ok || t.Sequence > cur.Sequence {
			reg[t.Family] = t
		}
	}
	return reg, nil
}

func (r *Registry) Lexicon(ctx context.Context, version string) (model.ConfirmationLexicon, error) {
	b, err := r.current(ctx)
	if err != nil {
		return model.ConfirmationLexicon{}, err
	}
	var best *model.ConfirmationLexicon
	for i := range b.Lexicons {
		l := &b.Lexicons[i]
		if version != "" {
			if l.Version == version {
				return *l, nil
			}
			continue
		}
		if best == nil || l.Sequence > best.Sequence {
			best = l
		}
	}
	if version != "" {
		return model.ConfirmationLexicon{}, fmt.Errorf("%w: lexicon version %q not found", model.ErrReplayIntegrity, version)
	}
	if best == nil {
		return model.ConfirmationLexicon{}, fmt.Errorf("lexicon: %w", ErrNoSnapshot)
	}
	return *best, nil
}

type staticSource struct{ b *Bundle }

func (s staticSource) Stamp(context.Context) (string, error) { return "static", nil }
func (s staticSource) Load(context.Context) (*Bundle, error)  { return s.b, nil }
