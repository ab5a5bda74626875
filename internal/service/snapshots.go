package service

import (
	"context"

	"selene.app/actioncore/internal/model"
)

// Snapshots is the read side of the snapshot registry. An empty version means
// the current snapshot.
type Snapshots interface {
	Catalog(ctx context.Context, version string) (model.CatalogSnapshot, error)
	Policy(ctx context.Context, tenantID, cohort, version string) (model.PolicySnapshot, error)
	Templates(ctx context.Context) (model.TemplateRegistry, error)
	Lexicon(ctx context.Context, version string) (model.ConfirmationLexicon, error)
}
