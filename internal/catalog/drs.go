package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// selfURI derives the drs:// URI for an object name from the service base URL.
func (s *Store) selfURI(name string) string {
	base := strings.Replace(s.htsgetURL, "http://", "drs://", 1)
	base = strings.Replace(base, "https://", "drs://", 1)
	return base + "/" + name
}

// GetDrsObject fetches one DRS object with its children. Lookups retry on
// transient store errors; a missing object returns domain.ErrNotFound.
func (s *Store) GetDrsObject(ctx context.Context, id string) (*domain.DrsObject, error) {
	var obj *domain.DrsObject
	err := s.withRetry(ctx, "get_drs_object", func() error {
		var ferr error
		obj, ferr = s.fetchDrsObject(ctx, id)
		if errors.Is(ferr, domain.ErrNotFound) {
			obj = nil
			return nil
		}
		return ferr
	})
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("drs object %s: %w", id, domain.ErrNotFound)
	}
	return obj, nil
}

func (s *Store) fetchDrsObject(ctx context.Context, id string) (*domain.DrsObject, error) {
	obj := &domain.DrsObject{}
	var checksums, aliases string
	var cohort sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, self_uri, size, created_time, updated_time, version,
		       mime_type, checksums, description, aliases, cohort_id
		FROM drs_object
		WHERE id = ?`), id).Scan(
		&obj.ID, &obj.Name, &obj.SelfURI, &obj.Size, &obj.CreatedTime,
		&obj.UpdatedTime, &obj.Version, &obj.MimeType, &checksums,
		&obj.Description, &aliases, &cohort,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("drs object %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting drs object %s: %w", id, err)
	}
	obj.Checksums = []domain.Checksum{}
	obj.Aliases = []string{}
	fromJSONColumn(checksums, &obj.Checksums)
	fromJSONColumn(aliases, &obj.Aliases)
	if cohort.Valid {
		obj.Cohort = cohort.String
	}

	if err := s.loadAccessMethods(ctx, obj); err != nil {
		return nil, err
	}
	if err := s.loadContents(ctx, obj); err != nil {
		return nil, err
	}

	// Project the variantfile's indexing state, if any.
	var indexed int
	var genome string
	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT indexed, reference_genome FROM variantfile WHERE drs_object_id = ?`), id).
		Scan(&indexed, &genome)
	if err == nil {
		obj.Indexed = &indexed
		obj.ReferenceGenome = genome
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("getting variantfile for %s: %w", id, err)
	}
	return obj, nil
}

func (s *Store) loadAccessMethods(ctx context.Context, obj *domain.DrsObject) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT type, access_id, region, url, headers
		FROM access_method WHERE drs_object_id = ? ORDER BY id`), obj.ID)
	if err != nil {
		return fmt.Errorf("getting access methods for %s: %w", obj.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.AccessMethod
		var url, headers string
		if err := rows.Scan(&m.Type, &m.AccessID, &m.Region, &url, &headers); err != nil {
			return fmt.Errorf("scanning access method: %w", err)
		}
		if url != "" {
			au := &domain.AccessURL{URL: url}
			fromJSONColumn(headers, &au.Headers)
			m.AccessURL = au
		}
		obj.AccessMethods = append(obj.AccessMethods, m)
	}
	return rows.Err()
}

func (s *Store) loadContents(ctx context.Context, obj *domain.DrsObject) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT name, contents_id, drs_uri, contents
		FROM content_object WHERE drs_object_id = ? ORDER BY id`), obj.ID)
	if err != nil {
		return fmt.Errorf("getting contents for %s: %w", obj.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.ContentsObject
		var drsURI, contents string
		if err := rows.Scan(&c.Name, &c.ID, &drsURI, &contents); err != nil {
			return fmt.Errorf("scanning contents object: %w", err)
		}
		fromJSONColumn(drsURI, &c.DrsURI)
		fromJSONColumn(contents, &c.Contents)
		obj.Contents = append(obj.Contents, c)
	}
	return rows.Err()
}

// ListDrsObjects lists objects, optionally filtered to one cohort.
func (s *Store) ListDrsObjects(ctx context.Context, cohortID string) ([]*domain.DrsObject, error) {
	query := `SELECT id FROM drs_object ORDER BY id`
	args := []any{}
	if cohortID != "" {
		query = `SELECT id FROM drs_object WHERE cohort_id = ? ORDER BY id`
		args = append(args, cohortID)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing drs objects: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning drs object id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	objs := make([]*domain.DrsObject, 0, len(ids))
	for _, id := range ids {
		obj, err := s.fetchDrsObject(ctx, id)
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// CreateDrsObject upserts a DRS object, replacing all child access methods
// and contents objects. A referenced cohort is created if missing; self_uri
// is always rewritten from the configured service URL. If the input carries
// a reference genome, the associated VariantFile row is created or updated.
func (s *Store) CreateDrsObject(ctx context.Context, obj *domain.DrsObject) (*domain.DrsObject, error) {
	var result *domain.DrsObject
	err := s.withRetry(ctx, "create_drs_object", func() error {
		if err := s.upsertDrsObject(ctx, obj); err != nil {
			return err
		}
		var ferr error
		result, ferr = s.fetchDrsObject(ctx, obj.ID)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"id":     obj.ID,
		"cohort": obj.Cohort,
	}).Info("DRS object stored")
	return result, nil
}

func (s *Store) upsertDrsObject(ctx context.Context, obj *domain.DrsObject) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning drs upsert: %w", err)
	}
	defer tx.Rollback()

	name := obj.Name
	if name == "" {
		name = obj.ID
	}
	now := time.Now().UTC().Format(time.RFC3339)
	created := obj.CreatedTime
	if created == "" {
		created = now
	}
	updated := obj.UpdatedTime
	if updated == "" {
		updated = now
	}
	mime := obj.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}

	var cohort any
	if obj.Cohort != "" {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO cohort (id) VALUES (?) ON CONFLICT (id) DO NOTHING`), obj.Cohort); err != nil {
			return fmt.Errorf("creating cohort %s: %w", obj.Cohort, err)
		}
		cohort = obj.Cohort
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO drs_object
			(id, name, self_uri, size, created_time, updated_time, version,
			 mime_type, checksums, description, aliases, cohort_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			self_uri = excluded.self_uri,
			size = excluded.size,
			created_time = excluded.created_time,
			updated_time = excluded.updated_time,
			version = excluded.version,
			mime_type = excluded.mime_type,
			checksums = excluded.checksums,
			description = excluded.description,
			aliases = excluded.aliases,
			cohort_id = excluded.cohort_id`),
		obj.ID, name, s.selfURI(name), obj.Size, created, updated, obj.Version,
		mime, jsonColumn(obj.Checksums), obj.Description, jsonColumn(obj.Aliases), cohort)
	if err != nil {
		return fmt.Errorf("upserting drs object %s: %w", obj.ID, err)
	}

	// Children are replaced wholesale on every upsert.
	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM access_method WHERE drs_object_id = ?`), obj.ID); err != nil {
		return fmt.Errorf("clearing access methods for %s: %w", obj.ID, err)
	}
	for _, m := range obj.AccessMethods {
		url, headers := "", "[]"
		if m.AccessURL != nil {
			url = m.AccessURL.URL
			headers = jsonColumn(m.AccessURL.Headers)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO access_method (drs_object_id, type, access_id, region, url, headers)
			VALUES (?, ?, ?, ?, ?, ?)`),
			obj.ID, m.Type, m.AccessID, m.Region, url, headers); err != nil {
			return fmt.Errorf("inserting access method for %s: %w", obj.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM content_object WHERE drs_object_id = ?`), obj.ID); err != nil {
		return fmt.Errorf("clearing contents for %s: %w", obj.ID, err)
	}
	for _, c := range obj.Contents {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO content_object (drs_object_id, name, contents_id, drs_uri, contents)
			VALUES (?, ?, ?, ?, ?)`),
			obj.ID, c.Name, c.ID, jsonColumn(c.DrsURI), jsonColumn(c.Contents)); err != nil {
			return fmt.Errorf("inserting contents object for %s: %w", obj.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing drs upsert: %w", err)
	}

	// A reference genome marks a GenomicDrsObject that needs a variantfile.
	if obj.ReferenceGenome != "" {
		if _, err := s.CreateVariantFile(ctx, obj.ID, obj.ReferenceGenome); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDrsObjectStats persists the size and checksums computed by the
// indexing worker without disturbing the rest of the object.
func (s *Store) UpdateDrsObjectStats(ctx context.Context, id string, size int64, checksums []domain.Checksum) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE drs_object SET size = ?, checksums = ?, updated_time = ? WHERE id = ?`),
		size, jsonColumn(checksums), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating stats for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("drs object %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeleteDrsObject removes an object; access methods, contents, variantfile,
// and the variantfile's index rows go with it via schema cascade.
func (s *Store) DeleteDrsObject(ctx context.Context, id string) (*domain.DrsObject, error) {
	obj, err := s.fetchDrsObject(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM drs_object WHERE id = ?`), id); err != nil {
		return nil, fmt.Errorf("deleting drs object %s: %w", id, err)
	}
	s.log.WithField("id", id).Info("DRS object deleted")
	return obj, nil
}

// GetCohort fetches one cohort with its member objects' self URIs.
func (s *Store) GetCohort(ctx context.Context, id string) (*domain.Cohort, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM cohort WHERE id = ?`), id).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cohort %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting cohort %s: %w", id, err)
	}
	cohort := &domain.Cohort{ID: id, DrsObjects: []string{}}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT self_uri FROM drs_object WHERE cohort_id = ? ORDER BY id`), id)
	if err != nil {
		return nil, fmt.Errorf("listing cohort %s objects: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scanning cohort member: %w", err)
		}
		cohort.DrsObjects = append(cohort.DrsObjects, uri)
	}
	return cohort, rows.Err()
}

// ListCohorts returns all cohort ids.
func (s *Store) ListCohorts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM cohort ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing cohorts: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning cohort id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateCohort upserts a cohort and claims any listed objects by self URI.
func (s *Store) CreateCohort(ctx context.Context, cohort *domain.Cohort) (*domain.Cohort, error) {
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO cohort (id) VALUES (?) ON CONFLICT (id) DO NOTHING`), cohort.ID); err != nil {
		return nil, fmt.Errorf("creating cohort %s: %w", cohort.ID, err)
	}
	for _, uri := range cohort.DrsObjects {
		if _, err := s.db.ExecContext(ctx, s.rebind(
			`UPDATE drs_object SET cohort_id = ? WHERE self_uri = ?`), cohort.ID, uri); err != nil {
			return nil, fmt.Errorf("attaching %s to cohort %s: %w", uri, cohort.ID, err)
		}
	}
	return s.GetCohort(ctx, cohort.ID)
}

// DeleteCohort removes a cohort and, via cascade, all its DRS objects.
func (s *Store) DeleteCohort(ctx context.Context, id string) (*domain.Cohort, error) {
	cohort, err := s.GetCohort(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM cohort WHERE id = ?`), id); err != nil {
		return nil, fmt.Errorf("deleting cohort %s: %w", id, err)
	}
	s.log.WithFields(logrus.Fields{
		"cohort":  id,
		"objects": len(cohort.DrsObjects),
	}).Info("Cohort deleted")
	return cohort, nil
}
