package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return &Store{
		db:         db,
		log:        logger,
		dialect:    dialectSQLite,
		htsgetURL:  "http://localhost:3000",
		bucketSize: 1000000,
		contigs:    lru.NewLRU[string, string](16, nil, time.Minute),
	}, mock
}

func TestGetDrsObjectRetriesOnTransientError(t *testing.T) {
	store, mock := mockStore(t)

	cols := []string{
		"id", "name", "self_uri", "size", "created_time", "updated_time",
		"version", "mime_type", "checksums", "description", "aliases", "cohort_id",
	}
	mock.ExpectQuery("SELECT id, name, self_uri").WillReturnError(errors.New("database is locked"))
	mock.ExpectQuery("SELECT id, name, self_uri").WillReturnRows(sqlmock.NewRows(cols).
		AddRow("x", "x", "drs://localhost:3000/x", 0, "", "", "", "application/octet-stream", "[]", "", "[]", nil))
	mock.ExpectQuery("SELECT type, access_id").WillReturnRows(sqlmock.NewRows(
		[]string{"type", "access_id", "region", "url", "headers"}))
	mock.ExpectQuery("SELECT name, contents_id").WillReturnRows(sqlmock.NewRows(
		[]string{"name", "contents_id", "drs_uri", "contents"}))
	mock.ExpectQuery("SELECT indexed, reference_genome").WillReturnRows(sqlmock.NewRows(
		[]string{"indexed", "reference_genome"}))

	obj, err := store.GetDrsObject(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x", obj.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDrsObjectGivesUpAfterThreeTries(t *testing.T) {
	store, mock := mockStore(t)

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT id, name, self_uri").WillReturnError(errors.New("database is locked"))
	}

	start := time.Now()
	_, err := store.GetDrsObject(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many tries")
	// two pauses of at least half a second each
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebindConvertsPlaceholdersForPostgres(t *testing.T) {
	store, _ := mockStore(t)
	store.dialect = dialectPostgres
	assert.Equal(t, "SELECT $1, $2", store.rebind("SELECT ?, ?"))
	store.dialect = dialectSQLite
	assert.Equal(t, "SELECT ?, ?", store.rebind("SELECT ?, ?"))
}

func TestBucketForPosition(t *testing.T) {
	store, _ := mockStore(t)
	assert.Equal(t, int64(0), store.BucketForPosition(999999))
	assert.Equal(t, int64(1000000), store.BucketForPosition(1000000))
	assert.Equal(t, int64(5000000), store.BucketForPosition(5030847))
}
