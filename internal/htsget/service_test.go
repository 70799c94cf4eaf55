package htsget

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanDIG/htsget-app/internal/authz"
	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/domain"
	"github.com/CanDIG/htsget-app/internal/storage"
)

func testService(t *testing.T, chunkSize int64) (*Service, *catalog.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store, err := catalog.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "files.db"), catalog.Options{
		HtsgetURL:  "http://localhost:3000",
		BucketSize: 1000000,
		Logger:     logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := storage.NewResolver(domain.S3Config{}, t.TempDir(), logger)
	cfg := domain.AuthConfig{OPA: domain.OPAConfig{Enabled: false}}
	gate := authz.NewGate(cfg, authz.NewOPAClient(cfg.OPA, logger), store, nil, logger)
	svc := &Service{
		Store:        store,
		Materializer: storage.NewMaterializer(store, resolver),
		Gate:         gate,
		Cfg: domain.HtsgetConfig{
			URL:        "http://localhost:3000",
			ChunkSize:  chunkSize,
			BucketSize: 1000000,
		},
		IndexingPath: filepath.Join(t.TempDir(), "queue"),
		Log:          logger,
	}
	return svc, store
}

func seedBuckets(t *testing.T, store *catalog.Store, id string, buckets []int64, counts []int64) {
	t.Helper()
	ctx := context.Background()
	_, err := store.CreateDrsObject(ctx, &domain.DrsObject{
		ID:          id,
		Name:        id,
		Description: domain.RoleWGS,
		Cohort:      "test-htsget",
		Contents: []domain.ContentsObject{
			{Name: id + ".vcf.gz", ID: "variant"},
			{Name: id + ".vcf.gz.tbi", ID: "index"},
		},
		ReferenceGenome: "hg38",
	})
	require.NoError(t, err)
	contigs := make([]string, len(buckets))
	for i := range contigs {
		contigs[i] = "21"
	}
	require.NoError(t, store.CreatePosBucket(ctx, catalog.PosBucketBatch{
		VariantFileID:     id,
		PosBucketIDs:      buckets,
		NormalizedContigs: contigs,
		BucketCounts:      counts,
	}))
}

func TestTicketHeaderFirst(t *testing.T) {
	svc, store := testService(t, 1000)
	seedBuckets(t, store, "NA18537", []int64{5000000}, []int64{3})

	start, end := int64(5030000), int64(5031000)
	ticket, serr := svc.Ticket(context.Background(), "variant", "NA18537", "21", &start, &end, "")
	require.Nil(t, serr)
	assert.Equal(t, "VCF", ticket.Htsget.Format)
	require.GreaterOrEqual(t, len(ticket.Htsget.URLs), 2)
	assert.Equal(t, "header", ticket.Htsget.URLs[0].Class)
	assert.Contains(t, ticket.Htsget.URLs[0].URL, "class=header")
	for _, u := range ticket.Htsget.URLs[1:] {
		assert.Equal(t, "body", u.Class)
	}
	assert.Contains(t, ticket.Htsget.URLs[1].URL, "start=5030000")
	assert.Contains(t, ticket.Htsget.URLs[1].URL, "end=5031000")
}

func TestTicketHeaderClassOnly(t *testing.T) {
	svc, store := testService(t, 1000)
	seedBuckets(t, store, "NA18537", []int64{5000000}, []int64{3})

	ticket, serr := svc.Ticket(context.Background(), "variant", "NA18537", "21", nil, nil, "header")
	require.Nil(t, serr)
	require.Len(t, ticket.Htsget.URLs, 1)
	assert.Equal(t, "header", ticket.Htsget.URLs[0].Class)
}

func TestTicketChunksByRecordBudget(t *testing.T) {
	svc, store := testService(t, 10)
	seedBuckets(t, store, "NA18537",
		[]int64{0, 1000000, 2000000, 3000000},
		[]int64{5, 5, 5, 5})

	ticket, serr := svc.Ticket(context.Background(), "variant", "NA18537", "21", nil, nil, "")
	require.Nil(t, serr)
	body := ticket.Htsget.URLs[1:]
	require.Len(t, body, 2, "the budget splits the buckets into two slices")
	assert.Contains(t, body[0].URL, "start=0")
	assert.Contains(t, body[0].URL, "end=2000000")
	assert.Contains(t, body[1].URL, "start=2000001")
	// an open end widens the trailing slice by one bucket
	assert.Contains(t, body[1].URL, "end=3000001")
}

func TestTicketHonorsConcreteEnd(t *testing.T) {
	svc, store := testService(t, 10)
	seedBuckets(t, store, "NA18537",
		[]int64{0, 1000000, 2000000, 3000000},
		[]int64{5, 5, 5, 5})

	start, end := int64(0), int64(3500000)
	ticket, serr := svc.Ticket(context.Background(), "variant", "NA18537", "21", &start, &end, "")
	require.Nil(t, serr)
	body := ticket.Htsget.URLs[1:]
	last := body[len(body)-1]
	assert.Contains(t, last.URL, "end=3500000")
}

func TestTicketRejectsBadRanges(t *testing.T) {
	svc, store := testService(t, 1000)
	seedBuckets(t, store, "NA18537", []int64{0}, []int64{1})

	start, end := int64(100), int64(50)
	_, serr := svc.Ticket(context.Background(), "variant", "NA18537", "21", &start, &end, "")
	require.NotNil(t, serr)
	assert.Equal(t, 400, serr.Code)

	neg := int64(-5)
	_, serr = svc.Ticket(context.Background(), "variant", "NA18537", "21", &neg, nil, "")
	require.NotNil(t, serr)
	assert.Equal(t, 400, serr.Code)
}

func TestTicketUnknownObject(t *testing.T) {
	svc, _ := testService(t, 1000)
	_, serr := svc.Ticket(context.Background(), "variant", "nope", "21", nil, nil, "")
	require.NotNil(t, serr)
	assert.Equal(t, 404, serr.Code)
}

func TestTicketNeverEscapesRequestedRange(t *testing.T) {
	svc, store := testService(t, 3)
	seedBuckets(t, store, "NA18537",
		[]int64{0, 1000000, 2000000, 3000000, 4000000},
		[]int64{2, 2, 2, 2, 2})

	start, end := int64(500000), int64(4200000)
	ticket, serr := svc.Ticket(context.Background(), "variant", "NA18537", "21", &start, &end, "")
	require.Nil(t, serr)
	for _, u := range ticket.Htsget.URLs[1:] {
		assert.True(t, strings.Contains(u.URL, "referenceName=21"))
	}
	last := ticket.Htsget.URLs[len(ticket.Htsget.URLs)-1]
	assert.Contains(t, last.URL, "end=4200000")
}
