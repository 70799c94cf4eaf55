package beacon

import (
	"context"
	"errors"
	"fmt"

	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/domain"
)

// FileVariants is everything the resultset assembler needs from one
// variantfile over a region.
type FileVariants struct {
	ID          string
	FileFormat  string
	Assembly    string
	InfoHeaders []map[string]string
	Variants    []*VariantRecord
}

// ParseVCFFile fetches and parses the records of one variantfile in a
// region, translating caller-normalized contig names back to the file's
// native spelling and sample names to their canonical ids.
func (s *Service) ParseVCFFile(ctx context.Context, drsObjectID, referenceName string, start, end int64) (*FileVariants, error) {
	genObj, gerr := s.Materializer.GetGenomicObject(ctx, drsObjectID)
	if gerr != nil {
		return nil, fmt.Errorf("error parsing vcf file for %s: %w", drsObjectID, gerr)
	}
	defer genObj.File.Close()

	refName := ""
	if referenceName != "" {
		translated, err := s.Store.GetContigNameInVariantFile(ctx, referenceName, drsObjectID)
		if err != nil {
			return nil, fmt.Errorf("error translating contig for %s: %w", drsObjectID, err)
		}
		refName = translated
	}

	headerTexts, err := s.Store.GetHeaders(ctx, drsObjectID)
	if err != nil {
		return nil, err
	}
	headers := ParseHeaders(headerTexts)

	result := &FileVariants{ID: drsObjectID}
	if entries, ok := headers["fileformat"]; ok && len(entries) > 0 {
		result.FileFormat = entries[0].Value
	}
	if entries, ok := headers["assembly"]; ok && len(entries) > 0 {
		result.Assembly = entries[0].Value
	}
	for _, entry := range headers["INFO"] {
		if entry.Structured {
			result.InfoHeaders = append(result.InfoHeaders, entry.Fields)
		}
	}

	// canonical sample names in file column order
	fileSamples := genObj.File.Header().Samples
	samples := make([]string, len(fileSamples))
	for i, name := range fileSamples {
		if canonical, ok := genObj.Samples[name]; ok {
			samples[i] = canonical
		} else {
			samples[i] = name
		}
	}

	scanner, err := genObj.File.Fetch(refName, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching region from %s: %w", drsObjectID, err)
	}
	defer scanner.Close()
	for scanner.Next() {
		if record := ParseVariantRecord(scanner.Record().String(), samples, result.InfoHeaders); record != nil {
			result.Variants = append(result.Variants, record)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading records from %s: %w", drsObjectID, err)
	}
	return result, nil
}

// FindVariantsInRegion narrows candidate variantfiles through the
// position-bucket index, then parses each one's actual records. Files with
// nothing in the region are dropped.
func (s *Service) FindVariantsInRegion(ctx context.Context, referenceName string, start, end int64) (map[string]*FileVariants, error) {
	normalized, err := s.Store.NormalizeContig(ctx, referenceName)
	if err != nil {
		return nil, err
	}
	// search for bases starting at the interbase half-a-base back
	searchStart := start - 1
	region := &domain.Region{ReferenceName: normalized, Start: &searchStart, End: &end}
	results, err := s.Store.Search(ctx, catalog.SearchQuery{Region: region})
	if err != nil {
		return nil, err
	}

	variantsByFile := map[string]*FileVariants{}
	for _, result := range results {
		parsed, err := s.ParseVCFFile(ctx, result.DrsObjectID, normalized, searchStart, end)
		if err != nil {
			var se *domain.StatusError
			if errors.As(err, &se) || errors.Is(err, domain.ErrNotFound) {
				s.Log.WithError(err).Warn("Skipping unreadable variantfile")
				continue
			}
			return nil, err
		}
		if len(parsed.Variants) > 0 {
			variantsByFile[result.DrsObjectID] = parsed
		}
	}
	return variantsByFile, nil
}
