package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/snapshot"
)

type countingSource struct {
	loads  atomic.Int32
	stamp  string
	bundle snapshot.Bundle
}

func (s *countingSource) Stamp(context.Context) (string, error) { return s.stamp, nil }

func (s *countingSource) Load(context.Context) (*snapshot.Bundle, error) {
	s.loads.Add(1)
	b := s.bundle
	return &b, nil
}

func writeFile(dir, rel, body string) {
	path := filepath.Join(dir, rel)
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
}

var _ = Describe("Registry", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("file snapshots", func() {
		It("loads the shipped snapshot directory", func() {
			reg := snapshot.NewFileRegistry(filepath.Join("..", "..", "snapshots"))

			cat, err := reg.Catalog(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(cat.Version).To(Equal("2026-10-01"))
			_, ok := cat.ActiveFor("any-tenant", "payment.send")
			Expect(ok).To(BeTrue())

			pol, err := reg.Policy(ctx, "acme", "en-GB", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(pol.TenantID).To(Equal("*"))
			Expect(pol.Calibration.ClarifyCeiling).To(Equal(2))

			tpl, err := reg.Templates(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tpl).To(HaveKey("payment"))

			lex, err := reg.Lexicon(ctx, "v1")
			Expect(err).NotTo(HaveOccurred())
			Expect(lex.Languages).To(HaveKey("de"))
		})

		It("picks up new files and prefers the highest sequence", func() {
			dir := GinkgoT().TempDir()
			writeFile(dir, "catalog/a.yaml", "version: a\nsequence: 1\ncapabilities: []\n")
			reg := snapshot.NewFileRegistry(dir)

			cat, err := reg.Catalog(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(cat.Version).To(Equal("a"))

			writeFile(dir, "catalog/b.yaml", "version: b\nsequence: 2\ncapabilities: []\n")
			cat, err = reg.Catalog(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(cat.Version).To(Equal("b"))

			pinned, err := reg.Catalog(ctx, "a")
			Expect(err).NotTo(HaveOccurred())
			Expect(pinned.Version).To(Equal("a"))
		})

		It("rejects unknown keys", func() {
			dir := GinkgoT().TempDir()
			writeFile(dir, "catalog/a.yaml", "version: a\nsequence: 1\nbogus: true\n")
			_, err := snapshot.NewFileRegistry(dir).Catalog(ctx, "")
			Expect(err).To(MatchError(model.ErrInvalidInput))
		})
	})

	Describe("pinned versions", func() {
		var reg *snapshot.Registry

		BeforeEach(func() {
			reg = snapshot.NewStatic(snapshot.Bundle{
				Catalogs: []model.CatalogSnapshot{{Version: "c1", Sequence: 1}},
				Policies: []model.PolicySnapshot{
					policy("acme", "*", "p1", 1),
					policy("acme", "de", "p2", 1),
					policy("*", "*", "p0", 1),
				},
			})
		})

		It("fails with a replay integrity error for a missing catalog version", func() {
			_, err := reg.Catalog(ctx, "c9")
			Expect(err).To(MatchError(model.ErrReplayIntegrity))
		})

		It("resolves the most specific policy scope", func() {
			p, err := reg.Policy(ctx, "acme", "de-AT", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Version).To(Equal("p2"))

			p, err = reg.Policy(ctx, "acme", "fr", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Version).To(Equal("p1"))

			p, err = reg.Policy(ctx, "globex", "fr", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Version).To(Equal("p0"))
		})

		It("resolves policies by reference", func() {
			p, err := reg.PolicyByRef(ctx, "policy:acme:de:p2")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Cohort).To(Equal("de"))

			_, err = reg.PolicyByRef(ctx, "policy:acme:de:p9")
			Expect(err).To(MatchError(model.ErrReplayIntegrity))
		})

		It("reports a missing lexicon", func() {
			_, err := reg.Lexicon(ctx, "")
			Expect(err).To(MatchError(snapshot.ErrNoSnapshot))
		})
	})

	It("loads once for concurrent callers with the same stamp", func() {
		src := &countingSource{stamp: "s1", bundle: snapshot.Bundle{
			Catalogs: []model.CatalogSnapshot{{Version: "c1", Sequence: 1}},
		}}
		reg := snapshot.NewRegistry(src)

		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				_, err := reg.Catalog(ctx, "")
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()
		_, err := reg.Catalog(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(src.loads.Load()).To(BeNumerically("<=", 16))

		before := src.loads.Load()
		_, err = reg.Catalog(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(src.loads.Load()).To(Equal(before))
	})
})

func policy(tenant, cohort, version string, seq int) model.PolicySnapshot {
	return model.PolicySnapshot{
		Version:  version,
		Sequence: seq,
		TenantID: tenant,
		Cohort:   cohort,
		Calibration: model.Calibration{
			DirectMatch:        8000,
			ClarifyEligible:    5000,
			TieMargin:          800,
			ClarifyCeiling:     2,
			OnClarifyExhausted: model.EscalateRefuse,
			TopK:               5,
		},
		Gap: model.GapPolicy{FrequencyWeight: 2500, ValueWeight: 2500, ROIWeight: 2500, FeasibilityWeight: 2500},
	}
}
