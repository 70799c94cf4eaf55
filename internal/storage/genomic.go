package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/domain"
	"github.com/CanDIG/htsget-app/internal/variant"
)

// GenomicObject is a materialized GenomicDrsObject: the opened file, its
// classification, and the sample-name mapping declared by the bundle.
type GenomicObject struct {
	File      variant.Reader
	Type      string // variant or read
	Format    string
	Samples   map[string]string // name in file -> canonical sample id
	Path      string
	IndexPath string
}

// Materializer opens the files behind GenomicDrsObjects.
type Materializer struct {
	store    *catalog.Store
	resolver *Resolver
}

// NewMaterializer creates a materializer over the catalog and resolver.
func NewMaterializer(store *catalog.Store, resolver *Resolver) *Materializer {
	return &Materializer{store: store, resolver: resolver}
}

// Resolver exposes the underlying access resolver.
func (m *Materializer) Resolver() *Resolver {
	return m.resolver
}

// GetGenomicObject resolves a GenomicDrsObject id into an opened reader.
// Failures come back as StatusError values for the caller to translate,
// never as panics.
func (m *Materializer) GetGenomicObject(ctx context.Context, id string) (*GenomicObject, error) {
	obj, err := m.store.GetDrsObject(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewStatusError(404, "no object matching id %s found", id)
		}
		return nil, domain.NewStatusError(500, "resolving %s: %s", id, err.Error())
	}
	if len(obj.Contents) == 0 {
		return nil, domain.NewStatusError(404, "object %s is not a GenomicDrsObject", id)
	}

	result := &GenomicObject{Samples: map[string]string{}}
	var mainChild, indexChild *domain.ContentsObject
	for i := range obj.Contents {
		c := &obj.Contents[i]
		switch domain.ClassifyContent(*c) {
		case domain.ContentIndex:
			indexChild = c
		case domain.ContentRead:
			mainChild = c
			result.Type = domain.RoleRead
		case domain.ContentVariant:
			mainChild = c
			result.Type = domain.RoleVariant
		case domain.ContentSample:
			// id is the spelling inside the file, name the canonical id
			result.Samples[c.ID] = c.Name
		}
	}
	if mainChild == nil {
		return nil, domain.NewStatusError(404, "object %s does not link to a variant or read file", id)
	}

	mainPath, err := m.pathForChild(ctx, mainChild)
	if err != nil {
		return nil, err
	}
	result.Path = mainPath
	result.Format = variant.FormatForName(mainChild.Name)
	if result.Format == "" {
		return nil, domain.NewStatusError(500, "cannot determine format of %s", mainChild.Name)
	}

	if indexChild != nil {
		indexPath, err := m.pathForChild(ctx, indexChild)
		if err != nil {
			return nil, err
		}
		result.IndexPath = indexPath
	}

	if result.Type == domain.RoleRead {
		reader, err := variant.OpenAlignment(mainPath, result.Format)
		if err != nil {
			return nil, domain.NewStatusError(500, "opening %s: %s", mainPath, err.Error())
		}
		result.File = reader
		return result, nil
	}
	reader, err := variant.OpenVCF(mainPath)
	if err != nil {
		return nil, domain.NewStatusError(500, "opening %s: %s", mainPath, err.Error())
	}
	result.File = reader
	return result, nil
}

// pathForChild resolves the DRS object behind a contents entry and fetches
// its bytes to a local path.
func (m *Materializer) pathForChild(ctx context.Context, child *domain.ContentsObject) (string, error) {
	childObj, err := m.store.GetDrsObject(ctx, child.Name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.NewStatusError(404, "contents object %s has no catalog entry", child.Name)
		}
		return "", domain.NewStatusError(500, "resolving contents %s: %s", child.Name, err.Error())
	}
	if len(childObj.AccessMethods) == 0 {
		return "", domain.NewStatusError(500, "object %s has no access methods", child.Name)
	}
	var lastErr error
	for _, method := range childObj.AccessMethods {
		path, err := m.resolver.FetchPath(ctx, method)
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("no usable access method for %s: %w", child.Name, lastErr)
}
