package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"selene.app/actioncore/internal/model"
)

const (
	catalogDir  = "catalog"
	policyDir   = "policy"
	templateDir = "templates"
	lexiconDir  = "lexicon"
)

// FileSource reads YAML snapshots from dir/{catalog,policy,templates,lexicon}.
// Each file holds one snapshot document.
type FileSource struct {
	Dir string
}

func NewFileRegistry(dir string) *Registry {
	return NewRegistry(FileSource{Dir: dir})
}

func (s FileSource) files(sub string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, sub, "*.yaml"))
	if err != nil {
		return nil, err
	}
	yml, err := filepath.Glob(filepath.Join(s.Dir, sub, "*.yml"))
	if err != nil {
		return nil, err
	}
	matches = append(matches, yml...)
	sort.Strings(matches)
	return matches, nil
}

// Stamp fingerprints names, sizes and modification times of every snapshot file.
func (s FileSource) Stamp(_ context.Context) (string, error) {
	h := model.NewHasher("snapshot-dir")
	for _, sub := range []string{catalogDir, policyDir, templateDir, lexiconDir} {
		files, err := s.files(sub)
		if err != nil {
			return "", err
		}
		for _, f := range files {
			info, err := os.Stat(f)
			if err != nil {
				return "", err
			}
			h.String(f).Int(info.Size()).String(strconv.FormatInt(info.ModTime().UnixNano(), 10))
		}
	}
	return h.Sum(), nil
}

func (s FileSource) Load(_ context.Context) (*Bundle, error) {
	var b Bundle
	if err := loadAll(s, catalogDir, &b.Catalogs); err != nil {
		return nil, err
	}
	if err := loadAll(s, policyDir, &b.Policies); err != nil {
		return nil, err
	}
	if err := loadAll(s, templateDir, &b.Templates); err != nil {
		return nil, err
	}
	if err := loadAll(s, lexiconDir, &b.Lexicons); err != nil {
		return nil, err
	}
	return &b, nil
}

func loadAll[T any](s FileSource, sub string, out *[]T) error {
	files, err := s.files(sub)
	if err != nil {
		return err
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		var doc T
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("%w: parse %s: %v", model.ErrInvalidInput, f, err)
		}
		*out = append(*out, doc)
	}
	return nil
}
