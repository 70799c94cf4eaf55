package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/CanDIG/htsget-app/internal/domain"
)

//go:embed migrations
var migrationFS embed.FS

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"

	maxTries = 3
)

// Store is the relational catalog of DRS objects, cohorts, variantfiles,
// contigs, position buckets, headers, samples, and the refseq table. It
// speaks either sqlite or postgres depending on the DSN scheme.
type Store struct {
	db         *sql.DB
	log        *logrus.Logger
	dialect    string
	htsgetURL  string
	bucketSize int64

	contigs *lru.LRU[string, string]
}

// Options tunes a Store beyond its connection URI.
type Options struct {
	HtsgetURL  string
	BucketSize int64
	Logger     *logrus.Logger
}

// Open connects to the catalog store named by dsn, runs pending migrations,
// and returns a ready Store. Supported schemes: sqlite://<path> and
// postgres://<conninfo>.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.BucketSize <= 0 {
		return nil, fmt.Errorf("opening catalog: bucket size must be positive, got %d", opts.BucketSize)
	}

	dialect, driver, connStr, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("opening catalog store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging catalog store: %w", err)
	}

	s := &Store{
		db:         db,
		log:        opts.Logger,
		dialect:    dialect,
		htsgetURL:  opts.HtsgetURL,
		bucketSize: opts.BucketSize,
		contigs:    lru.NewLRU[string, string](4096, nil, 10*time.Minute),
	}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	opts.Logger.WithFields(logrus.Fields{
		"dialect":     dialect,
		"bucket_size": opts.BucketSize,
	}).Info("Catalog store opened")
	return s, nil
}

// parseDSN splits a catalog DSN into dialect, database/sql driver name, and
// the connection string handed to that driver.
func parseDSN(dsn string) (dialect, driver, connStr string, err error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		// Pragmas ride on the DSN so every pooled connection enforces
		// foreign keys; WAL keeps readers unblocked by the single writer.
		path := strings.TrimPrefix(dsn, "sqlite://")
		return dialectSQLite, "sqlite",
			"file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)", nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return dialectPostgres, "pgx", dsn, nil
	}
	return "", "", "", fmt.Errorf("unsupported store URI %q", dsn)
}

// migrateUp applies all pending schema migrations for the active dialect.
func (s *Store) migrateUp() error {
	sub, err := fs.Sub(migrationFS, "migrations/"+s.dialect)
	if err != nil {
		return fmt.Errorf("locating migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	var m *migrate.Migrate
	switch s.dialect {
	case dialectSQLite:
		drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("creating sqlite migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("creating migration instance: %w", err)
		}
	case dialectPostgres:
		drv, err := migratepgx.WithInstance(s.db, &migratepgx.Config{})
		if err != nil {
			return fmt.Errorf("creating pgx migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx", drv)
		if err != nil {
			return fmt.Errorf("creating migration instance: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations up: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health checks the store connection.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind converts ?-style placeholders to the dialect's native form.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withRetry runs fn up to maxTries times, pausing a random 0.5-5 s between
// attempts. Reads can race the single-writer indexer mid-transaction; the
// pause is usually enough for the writer to commit.
func (s *Store) withRetry(ctx context.Context, name string, fn func() error) error {
	var err error
	for try := 1; try <= maxTries; try++ {
		if try > 1 {
			delay := time.Duration(500+rand.Intn(4500)) * time.Millisecond
			s.log.WithFields(logrus.Fields{
				"op":    name,
				"try":   try,
				"error": err,
			}).Info("Retrying catalog operation")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		// permanent errors carry a status; only transient store failures
		// are worth another try
		var se *domain.StatusError
		if errors.As(err, &se) {
			return err
		}
	}
	return fmt.Errorf("%s: too many tries: %w", name, err)
}

// jsonColumn marshals v for storage in a JSON text column.
func jsonColumn(v any) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// fromJSONColumn unmarshals a JSON text column into out, tolerating empty
// values.
func fromJSONColumn(raw string, out any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), out)
}
