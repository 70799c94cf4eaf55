package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// CalculateStats recursively computes and persists the size and sha-256 of
// a DRS object. Leaf objects hash their resolved bytes; containers sum
// their children and hash the sorted concatenation of child checksums.
// SampleDrsObjects carry an empty checksum.
func (w *Worker) CalculateStats(ctx context.Context, id string) (int64, string, error) {
	obj, err := w.Store.GetDrsObject(ctx, id)
	if err != nil {
		return 0, "", fmt.Errorf("calculating stats for %s: %w", id, err)
	}

	var size int64
	var checksum string
	switch {
	case len(obj.AccessMethods) > 0:
		size, checksum, err = w.leafStats(ctx, obj)
		if err != nil {
			return 0, "", err
		}
	case len(obj.Contents) > 0:
		var childSums []string
		for _, content := range obj.Contents {
			childSize, childSum, err := w.CalculateStats(ctx, content.Name)
			if errors.Is(err, domain.ErrNotFound) {
				// sample-mapping children have no catalog entry of their own
				continue
			}
			if err != nil {
				return 0, "", err
			}
			size += childSize
			childSums = append(childSums, childSum)
		}
		if obj.IsSample() {
			checksum = ""
		} else {
			sort.Strings(childSums)
			h := sha256.New()
			for _, sum := range childSums {
				io.WriteString(h, sum)
			}
			checksum = hex.EncodeToString(h.Sum(nil))
		}
	}

	checksums := []domain.Checksum{}
	if checksum != "" {
		checksums = append(checksums, domain.Checksum{Type: "sha-256", Checksum: checksum})
	}
	if err := w.Store.UpdateDrsObjectStats(ctx, id, size, checksums); err != nil {
		return 0, "", err
	}
	return size, checksum, nil
}

// leafStats reads the bytes behind the object's first usable access method
// and hashes them.
func (w *Worker) leafStats(ctx context.Context, obj *domain.DrsObject) (int64, string, error) {
	var lastErr error
	for _, method := range obj.AccessMethods {
		path, err := w.Materializer.Resolver().FetchPath(ctx, method)
		if err != nil {
			lastErr = err
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			lastErr = err
			continue
		}
		h := sha256.New()
		size, err := io.Copy(h, f)
		f.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return size, hex.EncodeToString(h.Sum(nil)), nil
	}
	return 0, "", fmt.Errorf("no readable access method for %s: %w", obj.ID, lastErr)
}
