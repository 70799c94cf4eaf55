package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// BucketForPosition floors a genomic position to its bucket id.
func (s *Store) BucketForPosition(pos int64) int64 {
	return (pos / s.bucketSize) * s.bucketSize
}

// BucketSize returns the deployment-wide bucket width in base pairs.
func (s *Store) BucketSize() int64 {
	return s.bucketSize
}

// PosBucketBatch is a run-length-compressed batch of bucket counts produced
// by the indexer: parallel lists of bucket ids, their contigs, and counts.
type PosBucketBatch struct {
	VariantFileID     string
	PosBucketIDs      []int64
	NormalizedContigs []string
	BucketCounts      []int64
}

// CreatePosBucket upserts a batch of bucket associations, creating
// PositionBucket rows on demand and attaching each contig to the
// variantfile on first sight. Each statement commits on its own, so a
// large index write never holds one long transaction.
func (s *Store) CreatePosBucket(ctx context.Context, batch PosBucketBatch) error {
	if len(batch.PosBucketIDs) != len(batch.NormalizedContigs) ||
		len(batch.PosBucketIDs) != len(batch.BucketCounts) {
		return fmt.Errorf("creating pos buckets: mismatched batch lengths")
	}
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT 1 FROM variantfile WHERE id = ?`), batch.VariantFileID).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("creating pos buckets: variantfile %s: %w", batch.VariantFileID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("creating pos buckets: %w", err)
	}

	currContig := ""
	for i := range batch.PosBucketIDs {
		bucketID := batch.PosBucketIDs[i]
		contigID := batch.NormalizedContigs[i]
		count := batch.BucketCounts[i]
		if count <= 0 {
			continue
		}
		if contigID != currContig {
			currContig = contigID
			if _, err := s.db.ExecContext(ctx, s.rebind(`
				INSERT INTO contig_variantfile_association (contig_id, variantfile_id)
				VALUES (?, ?) ON CONFLICT DO NOTHING`), contigID, batch.VariantFileID); err != nil {
				return fmt.Errorf("attaching contig %s to %s: %w", contigID, batch.VariantFileID, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO pos_bucket (pos_bucket_id, contig_id)
			VALUES (?, ?) ON CONFLICT (pos_bucket_id, contig_id) DO NOTHING`),
			bucketID, contigID); err != nil {
			return fmt.Errorf("creating pos bucket %d/%s: %w", bucketID, contigID, err)
		}
		var rowID int64
		if err := s.db.QueryRowContext(ctx, s.rebind(`
			SELECT id FROM pos_bucket WHERE pos_bucket_id = ? AND contig_id = ?`),
			bucketID, contigID).Scan(&rowID); err != nil {
			return fmt.Errorf("fetching pos bucket %d/%s: %w", bucketID, contigID, err)
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO pos_bucket_variantfile_association (pos_bucket_id, variantfile_id, bucket_count)
			VALUES (?, ?, ?)
			ON CONFLICT (pos_bucket_id, variantfile_id) DO UPDATE SET bucket_count = excluded.bucket_count`),
			rowID, batch.VariantFileID, count); err != nil {
			return fmt.Errorf("upserting bucket association %d/%s: %w", bucketID, batch.VariantFileID, err)
		}
	}
	s.log.WithFields(logrus.Fields{
		"variantfile": batch.VariantFileID,
		"buckets":     len(batch.PosBucketIDs),
	}).Debug("Position buckets written")
	return nil
}

// GetVariantCountForVariantFile returns the ordered bucket list intersecting
// [start, end) for one variantfile, coarse to bucket resolution. start = 0
// with end = -1 covers the whole file.
func (s *Store) GetVariantCountForVariantFile(ctx context.Context, id, referenceName string, start, end int64) ([]domain.BucketCount, error) {
	query := `
		SELECT pb.pos_bucket_id, a.bucket_count
		FROM pos_bucket pb
		JOIN pos_bucket_variantfile_association a ON a.pos_bucket_id = pb.id
		WHERE a.variantfile_id = ?`
	args := []any{id}
	if referenceName != "" {
		contigID, err := s.NormalizeContig(ctx, referenceName)
		if err != nil {
			return nil, err
		}
		query += ` AND pb.contig_id = ?`
		args = append(args, contigID)
	}
	if start > 0 {
		query += ` AND pb.pos_bucket_id >= ?`
		args = append(args, s.BucketForPosition(start))
	}
	if end != -1 {
		query += ` AND pb.pos_bucket_id <= ?`
		args = append(args, s.BucketForPosition(end))
	}
	query += ` ORDER BY pb.pos_bucket_id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("counting region for %s: %w", id, err)
	}
	defer rows.Close()
	var out []domain.BucketCount
	for rows.Next() {
		var bc domain.BucketCount
		if err := rows.Scan(&bc.PosBucket, &bc.Count); err != nil {
			return nil, fmt.Errorf("scanning bucket count: %w", err)
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

// SearchQuery narrows variantfiles by region and header substrings.
type SearchQuery struct {
	Region  *domain.Region
	Headers []string
}

// Search returns per-variantfile total counts over a region, optionally
// filtered to files whose headers match every given substring. Reads retry
// on transient store errors.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]domain.SearchResult, error) {
	var results []domain.SearchResult
	err := s.withRetry(ctx, "search", func() error {
		var ferr error
		results, ferr = s.searchOnce(ctx, q)
		return ferr
	})
	return results, err
}

func (s *Store) searchOnce(ctx context.Context, q SearchQuery) ([]domain.SearchResult, error) {
	query := `
		SELECT vf.id, vf.reference_genome, SUM(a.bucket_count)
		FROM variantfile vf
		JOIN pos_bucket_variantfile_association a ON a.variantfile_id = vf.id
		JOIN pos_bucket pb ON pb.id = a.pos_bucket_id`
	var conds []string
	var args []any

	if q.Region != nil {
		if q.Region.ReferenceName == "" {
			return nil, domain.NewStatusError(400, "no referenceName specified")
		}
		contigID, err := s.NormalizeContig(ctx, q.Region.ReferenceName)
		if err != nil {
			return nil, err
		}
		conds = append(conds, `pb.contig_id = ?`)
		args = append(args, contigID)
		if q.Region.Start != nil {
			conds = append(conds, `pb.pos_bucket_id >= ?`)
			args = append(args, s.BucketForPosition(*q.Region.Start))
		}
		if q.Region.End != nil {
			conds = append(conds, `pb.pos_bucket_id <= ?`)
			args = append(args, s.BucketForPosition(*q.Region.End))
		}
	}
	for _, h := range q.Headers {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM header_variantfile_association ha
			JOIN header h ON h.id = ha.header_id
			WHERE ha.variantfile_id = vf.id AND h.text LIKE ?)`)
		args = append(args, "%"+h+"%")
	}
	if len(conds) > 0 {
		query += ` WHERE ` + conds[0]
		for _, c := range conds[1:] {
			query += ` AND ` + c
		}
	}
	query += ` GROUP BY vf.id, vf.reference_genome ORDER BY vf.id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("searching variantfiles: %w", err)
	}
	defer rows.Close()
	var out []domain.SearchResult
	for rows.Next() {
		var r domain.SearchResult
		if err := rows.Scan(&r.DrsObjectID, &r.ReferenceGenome, &r.VariantCount); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
