package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanDIG/htsget-app/internal/authz"
	"github.com/CanDIG/htsget-app/internal/beacon"
	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/domain"
	"github.com/CanDIG/htsget-app/internal/drs"
	"github.com/CanDIG/htsget-app/internal/htsget"
	"github.com/CanDIG/htsget-app/internal/indexer"
	"github.com/CanDIG/htsget-app/internal/storage"
)

const e2eVCF = `##fileformat=VCFv4.2
##contig=<ID=chr21,length=46709983>
##INFO=<ID=DP,Number=1,Type=Integer,Description="Combined depth across samples">
##INFO=<ID=CSQ,Number=.,Type=String,Description="Consequence annotations from Ensembl VEP. Format: Allele|Gene|SYMBOL|Consequence">
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	S1	S2
chr21	1200105	.	G	T	.	PASS	DP=10	GT	0/1	0/0
chr21	5030551	.	A	C	.	PASS	DP=100	GT	0/0	0/1
chr21	5030847	.	T	A	.	PASS	CSQ=A|ENSG00000219481|NBPF1|missense_variant	GT	0/1	1/1
`

type testEnv struct {
	router http.Handler
	store  *catalog.Store
	worker *indexer.Worker
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &domain.Config{
		Server: domain.ServerConfig{Host: "127.0.0.1", Port: 3000},
		DB:     domain.DBConfig{Path: "sqlite://" + filepath.Join(dir, "files.db")},
		Htsget: domain.HtsgetConfig{
			URL:        "http://localhost:3000",
			ChunkSize:  1000,
			BucketSize: 1000000,
		},
		Indexing: domain.IndexingConfig{Path: filepath.Join(dir, "queue")},
		Auth:     domain.AuthConfig{OPA: domain.OPAConfig{Enabled: false}},
		Logging:  domain.LoggingConfig{Level: "error"},
	}

	store, err := catalog.Open(context.Background(), cfg.DB.Path, catalog.Options{
		HtsgetURL:  cfg.Htsget.URL,
		BucketSize: cfg.Htsget.BucketSize,
		Logger:     logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := storage.NewResolver(domain.S3Config{}, dir, logger)
	materializer := storage.NewMaterializer(store, resolver)
	gate := authz.NewGate(cfg.Auth, authz.NewOPAClient(cfg.Auth.OPA, logger), store, nil, logger)

	drsSvc := &drs.Service{Store: store, Resolver: resolver, Gate: gate, IndexingPath: cfg.Indexing.Path, Log: logger}
	htsgetSvc := &htsget.Service{Store: store, Materializer: materializer, Gate: gate, Cfg: cfg.Htsget, IndexingPath: cfg.Indexing.Path, Log: logger}
	beaconSvc := &beacon.Service{Store: store, Materializer: materializer, Gate: gate, Htsget: htsgetSvc, Log: logger}

	server := NewServer(cfg, logger, drsSvc, htsgetSvc, beaconSvc)
	worker := &indexer.Worker{Store: store, Materializer: materializer, QueuePath: cfg.Indexing.Path, Log: logger}
	return &testEnv{router: server.Router(), store: store, worker: worker, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// seedAndIndex registers the fixture bundle through the DRS surface and
// runs the indexing pass directly.
func (e *testEnv) seedAndIndex(t *testing.T) {
	t.Helper()
	vcfPath := filepath.Join(e.dir, "NA18537.vcf")
	require.NoError(t, os.WriteFile(vcfPath, []byte(e2eVCF), 0o644))
	tbiPath := filepath.Join(e.dir, "NA18537.vcf.tbi")
	require.NoError(t, os.WriteFile(tbiPath, []byte("index"), 0o644))

	for name, path := range map[string]string{"NA18537.vcf": vcfPath, "NA18537.vcf.tbi": tbiPath} {
		w := e.do(t, http.MethodPost, "/ga4gh/drs/v1/objects", map[string]any{
			"id":     name,
			"name":   name,
			"cohort": "test-htsget",
			"access_methods": []map[string]any{{
				"type":       "file",
				"access_url": map[string]any{"url": "file://" + path},
			}},
		})
		require.Equal(t, 200, w.Code, w.Body.String())
	}

	w := e.do(t, http.MethodPost, "/ga4gh/drs/v1/objects", map[string]any{
		"id":          "NA18537",
		"name":        "NA18537",
		"description": "wgs",
		"cohort":      "test-htsget",
		"contents": []map[string]any{
			{"name": "NA18537.vcf", "id": "variant"},
			{"name": "NA18537.vcf.tbi", "id": "index"},
		},
		"reference_genome": "hg38",
	})
	require.Equal(t, 200, w.Code, w.Body.String())

	require.NoError(t, e.worker.IndexVariants(context.Background(), "NA18537"))
}

func TestCreateIndexAndCount(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndIndex(t)

	w := env.do(t, http.MethodGet, "/ga4gh/drs/v1/objects/NA18537", nil)
	require.Equal(t, 200, w.Code)
	var obj domain.DrsObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	require.NotNil(t, obj.Indexed)
	assert.Equal(t, 1, *obj.Indexed)
	assert.NotEmpty(t, obj.Checksums)

	w = env.do(t, http.MethodGet, "/htsget/v1/variants/NA18537?referenceName=21&start=5030000&end=5031000", nil)
	require.Equal(t, 200, w.Code, w.Body.String())
	var ticket htsget.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ticket))
	assert.Equal(t, "VCF", ticket.Htsget.Format)
	require.GreaterOrEqual(t, len(ticket.Htsget.URLs), 2)
	assert.Equal(t, "header", ticket.Htsget.URLs[0].Class)
}

func TestDataSliceFidelity(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndIndex(t)

	w := env.do(t, http.MethodGet, "/htsget/v1/variants/data/NA18537?referenceName=21&start=0&end=1260000&class=body", nil)
	require.Equal(t, 200, w.Code, w.Body.String())
	assert.Equal(t, "NA18537.vcf", w.Header().Get("x-filename"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 1, "exactly one record falls in the slice")
	assert.Contains(t, lines[0], "1200105")
}

func TestDataHeaderClass(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndIndex(t)

	w := env.do(t, http.MethodGet, "/htsget/v1/variants/data/NA18537?class=header", nil)
	require.Equal(t, 200, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "##fileformat=VCFv4.2"))
	assert.NotContains(t, w.Body.String(), "5030551")
}

func TestDataRejectsBadRange(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndIndex(t)

	w := env.do(t, http.MethodGet, "/htsget/v1/variants/data/NA18537?referenceName=21&start=100&end=50", nil)
	assert.Equal(t, 400, w.Code)
}

func TestCohortStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndIndex(t)

	w := env.do(t, http.MethodGet, "/ga4gh/drs/v1/cohorts/test-htsget/status", nil)
	require.Equal(t, 200, w.Code)
	var status domain.CohortStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Contains(t, status.IndexComplete, "NA18537")
	assert.Empty(t, status.IndexErrored)
}

func TestBeaconSNPSearch(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndIndex(t)

	w := env.do(t, http.MethodPost, "/beacon/v2/g_variants", map[string]any{
		"query": map[string]any{
			"requestParameters": map[string]any{
				"start":         []int64{5030000},
				"end":           []int64{5030847},
				"assemblyId":    "hg38",
				"referenceName": "21",
			},
		},
	})
	require.Equal(t, 200, w.Code, w.Body.String())
	var resp struct {
		Response        []json.RawMessage `json:"response"`
		ResponseSummary struct {
			Exists          bool `json:"exists"`
			NumTotalResults int  `json:"numTotalResults"`
		} `json:"responseSummary"`
		BeaconHandovers []json.RawMessage `json:"beaconHandovers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.ResponseSummary.Exists)
	// two records in range, each contributing its ref and alt alleles
	assert.Len(t, resp.Response, 4)
	assert.NotEmpty(t, resp.BeaconHandovers)
}

func TestBeaconHGVSShortForm(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndIndex(t)

	w := env.do(t, http.MethodGet, "/beacon/v2/g_variants?assemblyId=hg38&allele=NC_000021.9:g.5030847T>A", nil)
	require.Equal(t, 200, w.Code, w.Body.String())
	var resp struct {
		Response []struct {
			VariantInternalID string `json:"variantInternalId"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// one ref and one alt variation
	require.Len(t, resp.Response, 2)
	ids := []string{resp.Response[0].VariantInternalID, resp.Response[1].VariantInternalID}
	assert.Contains(t, ids, "NC_000021.9:g.5030847=")
	assert.Contains(t, ids, "NC_000021.9:g.5030847T>A")
}

func TestBeaconGeneResolve(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndIndex(t)
	require.NoError(t, env.store.CreateRefseq(context.Background(), domain.RefSeq{
		ReferenceGenome: "hg38",
		GeneName:        "NBPF1",
		TranscriptName:  "NM_017940.4",
		Contig:          "chr21",
		Start:           5030500,
		End:             5031000,
	}))

	w := env.do(t, http.MethodPost, "/beacon/v2/g_variants", map[string]any{
		"query": map[string]any{
			"requestParameters": map[string]any{"gene_id": "NBPF1"},
		},
	})
	require.Equal(t, 200, w.Code, w.Body.String())
	var resp struct {
		Response []struct {
			MolecularAttributes struct {
				GeneIDs []string `json:"geneIds"`
			} `json:"molecularAttributes"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Response)
	found := false
	for _, entry := range resp.Response {
		for _, id := range entry.MolecularAttributes.GeneIDs {
			if id == "NBPF1" {
				found = true
			}
		}
	}
	assert.True(t, found, "at least one variation carries the gene symbol")
}

func TestBeaconMissingReferenceName(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndIndex(t)

	w := env.do(t, http.MethodPost, "/beacon/v2/g_variants", map[string]any{
		"query": map[string]any{
			"requestParameters": map[string]any{},
		},
	})
	require.Equal(t, 200, w.Code)
	var resp struct {
		Error struct {
			ErrorMessage string `json:"errorMessage"`
			ErrorCode    int    `json:"errorCode"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 404, resp.Error.ErrorCode)
	assert.Equal(t, "no referenceName was provided", resp.Error.ErrorMessage)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, 200, w.Code)
}

func TestDeleteObject(t *testing.T) {
	env := newTestEnv(t)
	env.seedAndIndex(t)

	w := env.do(t, http.MethodDelete, "/ga4gh/drs/v1/objects/NA18537", nil)
	require.Equal(t, 200, w.Code)

	w = env.do(t, http.MethodGet, "/ga4gh/drs/v1/objects/NA18537", nil)
	assert.Equal(t, 404, w.Code)
}

func TestServiceInfoEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{
		"/htsget/v1/variants/service-info",
		"/htsget/v1/reads/service-info",
		"/beacon/v2/service-info",
	} {
		w := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, 200, w.Code, path)
		assert.Contains(t, w.Body.String(), "org.candig", path)
	}
}
