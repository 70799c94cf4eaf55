package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/domain"
)

// IndexVariants runs the full indexing pass for one DRS object: stats,
// headers, samples, contig prefix, and the position-bucket index. Read
// files get stats only. The indexed bit flips on strictly after every index
// row is durable; a crash mid-index leaves it clear so the next enqueue
// retries from scratch.
func (w *Worker) IndexVariants(ctx context.Context, id string) error {
	if _, err := w.Store.GetVariantFile(ctx, id); errors.Is(err, domain.ErrNotFound) {
		if _, err := w.Store.CreateVariantFile(ctx, id, "hg38"); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if _, _, err := w.CalculateStats(ctx, id); err != nil {
		return err
	}

	genObj, gerr := w.Materializer.GetGenomicObject(ctx, id)
	if gerr != nil {
		return fmt.Errorf("opening genomic object %s: %w", id, gerr)
	}
	defer genObj.File.Close()
	if genObj.Type == domain.RoleRead {
		return nil
	}

	header := genObj.File.Header()
	if err := w.Store.AddHeadersForVariantFile(ctx, id, header.Lines); err != nil {
		return err
	}
	w.Log.WithFields(logrus.Fields{
		"id":      id,
		"headers": len(header.Lines),
	}).Debug("Headers indexed")

	for _, sample := range header.Samples {
		if _, err := w.Store.CreateSample(ctx, sample, id); err != nil {
			w.Log.WithFields(logrus.Fields{
				"sample": sample,
				"id":     id,
			}).Warn("Could not add sample to variantfile")
		}
	}

	// Normalize the declared contigs once; any known contig fixes the
	// file's chromosome spelling prefix.
	contigs := map[string]string{}
	for _, contig := range header.Contigs {
		normalized, err := w.Store.NormalizeContig(ctx, contig)
		if err != nil {
			return err
		}
		contigs[contig] = normalized
	}
	for raw, normalized := range contigs {
		if normalized == "" {
			continue
		}
		prefix, err := w.Store.GetContigPrefix(ctx, raw)
		if err != nil {
			return err
		}
		if _, err := w.Store.SetVariantFilePrefix(ctx, id, prefix); err != nil {
			return err
		}
		break
	}

	scanner, err := genObj.File.Fetch("", 0, -1)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", id, err)
	}
	var positions []int64
	var normalizedContigs []string
	for scanner.Next() {
		rec := scanner.Record()
		normalized, ok := contigs[rec.Contig]
		if !ok {
			normalized, err = w.Store.NormalizeContig(ctx, rec.Contig)
			if err != nil {
				scanner.Close()
				return err
			}
			contigs[rec.Contig] = normalized
		}
		if normalized == "" {
			w.Log.WithFields(logrus.Fields{
				"referenceName": rec.Contig,
				"id":            id,
			}).Warn("referenceName does not correspond to a known chromosome")
			continue
		}
		positions = append(positions, rec.Pos)
		normalizedContigs = append(normalizedContigs, normalized)
	}
	scanErr := scanner.Err()
	scanner.Close()
	if scanErr != nil {
		return fmt.Errorf("scanning %s: %w", id, scanErr)
	}

	batch := compressPositions(id, positions, normalizedContigs, w.Store.BucketForPosition)
	if err := w.Store.CreatePosBucket(ctx, batch); err != nil {
		return err
	}
	w.Log.WithFields(logrus.Fields{
		"id":      id,
		"records": len(positions),
		"buckets": len(batch.PosBucketIDs),
	}).Info("Position buckets written")

	return w.Store.MarkVariantFileIndexed(ctx, id)
}

// compressPositions run-length-compresses consecutive equal
// (bucket, contig) pairs over records in file order.
func compressPositions(variantfileID string, positions []int64, contigs []string, bucketFor func(int64) int64) catalog.PosBucketBatch {
	batch := catalog.PosBucketBatch{VariantFileID: variantfileID}
	if len(positions) == 0 || len(positions) != len(contigs) {
		return batch
	}
	batch.PosBucketIDs = []int64{bucketFor(positions[0])}
	batch.NormalizedContigs = []string{contigs[0]}
	batch.BucketCounts = []int64{0}
	for i := 1; i < len(positions); i++ {
		bucket := bucketFor(positions[i])
		contig := contigs[i]
		batch.BucketCounts[len(batch.BucketCounts)-1]++
		if contig != batch.NormalizedContigs[len(batch.NormalizedContigs)-1] ||
			bucket != batch.PosBucketIDs[len(batch.PosBucketIDs)-1] {
			batch.PosBucketIDs = append(batch.PosBucketIDs, bucket)
			batch.BucketCounts = append(batch.BucketCounts, 0)
			batch.NormalizedContigs = append(batch.NormalizedContigs, contig)
		}
	}
	// the last record still needs counting
	batch.BucketCounts[len(batch.BucketCounts)-1]++
	return batch
}
