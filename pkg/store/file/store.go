/*
Copyright 2024 The CSE Runtime Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package file implements a filesystem-backed resource store: one JSON
// document per resource, plus a layout manifest that guards against
// opening a data directory written by an incompatible release.
package file

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/json"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
	"github.com/onem2m-go/cse-runtime/pkg/store"
)

// LayoutVersion is the on-disk layout this release writes. Opening a data
// directory whose manifest carries a different major version fails.
const LayoutVersion = "1.0.0"

const (
	manifestName = "layout.json"
	resourcesDir = "resources"
	docSuffix    = ".json"
)

// Error strings.
const (
	errInitLayout    = "cannot initialize data directory"
	errReadManifest  = "cannot read layout manifest"
	errParseManifest = "cannot parse layout manifest"
	errWriteDoc      = "cannot write resource document"
	errReadDoc       = "cannot read resource document"
	errParseDoc      = "cannot parse resource document"
	errListDocs      = "cannot list resource documents"
)

type manifest struct {
	Version string `json:"version"`
}

// A Store keeps one JSON document per resource under a data directory on
// the supplied filesystem.
type Store struct {
	fs  afero.Fs
	dir string
	mu  sync.RWMutex
}

// NewStore opens the data directory at dir, creating it and its layout
// manifest when absent. A manifest written by a different major layout
// version is rejected.
func NewStore(fs afero.Fs, dir string) (*Store, error) {
	s := &Store{fs: fs, dir: dir}
	if err := fs.MkdirAll(filepath.Join(dir, resourcesDir), 0o750); err != nil {
		return nil, errors.Wrap(err, errInitLayout)
	}
	if err := s.checkLayout(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) checkLayout() error {
	path := filepath.Join(s.dir, manifestName)

	ok, err := afero.Exists(s.fs, path)
	if err != nil {
		return errors.Wrap(err, errReadManifest)
	}
	if !ok {
		b, err := json.Marshal(manifest{Version: LayoutVersion})
		if err != nil {
			return errors.Wrap(err, errInitLayout)
		}
		return errors.Wrap(afero.WriteFile(s.fs, path, b, 0o640), errInitLayout)
	}

	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return errors.Wrap(err, errReadManifest)
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return errors.Wrap(err, errParseManifest)
	}
	have, err := semver.NewVersion(m.Version)
	if err != nil {
		return errors.Wrap(err, errParseManifest)
	}
	want := semver.MustParse(LayoutVersion)
	if have.Major() != want.Major() {
		return errors.Errorf("data directory layout %s is not compatible with %s", have, want)
	}
	return nil
}

func (s *Store) docPath(ri string) string {
	return filepath.Join(s.dir, resourcesDir, url.PathEscape(ri)+docSuffix)
}

// writeDoc writes the document to a temporary file and renames it into
// place, so readers never observe a partial document.
func (s *Store) writeDoc(ri string, doc map[string]any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errWriteDoc)
	}
	path := s.docPath(ri)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o640); err != nil {
		return errors.Wrap(err, errWriteDoc)
	}
	return errors.Wrap(s.fs.Rename(tmp, path), errWriteDoc)
}

func (s *Store) readDoc(path string) (map[string]any, error) {
	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, errors.Wrap(err, errReadDoc)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrap(err, errParseDoc)
	}
	return doc, nil
}

// Create persists a new resource.
func (s *Store) Create(_ context.Context, r *resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ri := r.RI()
	ok, err := afero.Exists(s.fs, s.docPath(ri))
	if err != nil {
		return errors.Wrap(err, errReadDoc)
	}
	if ok {
		return status.Errorf(onem2m.StatusConflict, "resource %s already exists", ri)
	}
	return s.writeDoc(ri, r.Object())
}

// Retrieve returns the resource with the supplied identifier.
func (s *Store) Retrieve(_ context.Context, ri string) (*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.docPath(ri)
	ok, err := afero.Exists(s.fs, path)
	if err != nil {
		return nil, errors.Wrap(err, errReadDoc)
	}
	if !ok {
		return nil, status.Errorf(onem2m.StatusNotFound, "resource %s not found", ri)
	}
	doc, err := s.readDoc(path)
	if err != nil {
		return nil, err
	}
	return resource.FromMap(doc), nil
}

// Update replaces the stored document of an existing resource.
func (s *Store) Update(_ context.Context, r *resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ri := r.RI()
	ok, err := afero.Exists(s.fs, s.docPath(ri))
	if err != nil {
		return errors.Wrap(err, errReadDoc)
	}
	if !ok {
		return status.Errorf(onem2m.StatusNotFound, "resource %s not found", ri)
	}
	return s.writeDoc(ri, r.Object())
}

// Delete removes the resource with the supplied identifier.
func (s *Store) Delete(_ context.Context, ri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.docPath(ri)
	ok, err := afero.Exists(s.fs, path)
	if err != nil {
		return errors.Wrap(err, errReadDoc)
	}
	if !ok {
		return status.Errorf(onem2m.StatusNotFound, "resource %s not found", ri)
	}
	return errors.Wrap(s.fs.Remove(path), errWriteDoc)
}

// SearchByValueInField returns the resources whose named field equals the
// supplied value or whose named list field contains it.
func (s *Store) SearchByValueInField(ctx context.Context, field, value string) ([]*resource.Resource, error) {
	return s.SearchByFilter(ctx, func(r *resource.Resource) bool {
		v, ok := r.Attribute(field)
		return ok && store.FieldMatches(v, value)
	})
}

// SearchByFilter returns the resources the supplied filter accepts,
// ordered by creation time then identifier.
func (s *Store) SearchByFilter(_ context.Context, filter func(*resource.Resource) bool) ([]*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos, err := afero.ReadDir(s.fs, filepath.Join(s.dir, resourcesDir))
	if err != nil {
		return nil, errors.Wrap(err, errListDocs)
	}

	var out []*resource.Resource
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), docSuffix) {
			continue
		}
		doc, err := s.readDoc(filepath.Join(s.dir, resourcesDir, fi.Name()))
		if err != nil {
			return nil, err
		}
		r := resource.FromMap(doc)
		if filter(r) {
			out = append(out, r)
		}
	}
	store.SortByCreation(out)
	return out, nil
}

// HasResource returns true if a resource with the supplied identifier
// exists.
func (s *Store) HasResource(_ context.Context, ri string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ok, err := afero.Exists(s.fs, s.docPath(ri))
	return ok, errors.Wrap(err, errReadDoc)
}
