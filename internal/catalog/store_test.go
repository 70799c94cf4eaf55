package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanDIG/htsget-app/internal/domain"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "files.db")
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store, err := Open(context.Background(), "sqlite://"+dbPath, Options{
		HtsgetURL:  "http://localhost:3000",
		BucketSize: 1000000,
		Logger:     logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func genomicObject(id, cohort string) *domain.DrsObject {
	return &domain.DrsObject{
		ID:          id,
		Name:        id,
		Description: domain.RoleWGS,
		Cohort:      cohort,
		Contents: []domain.ContentsObject{
			{Name: id + ".vcf.gz", ID: "variant", DrsURI: []string{"drs://localhost/" + id + ".vcf.gz"}},
			{Name: id + ".vcf.gz.tbi", ID: "index", DrsURI: []string{"drs://localhost/" + id + ".vcf.gz.tbi"}},
		},
		ReferenceGenome: "hg38",
	}
}

func TestCreateAndGetDrsObject(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	obj := genomicObject("NA18537", "test-htsget")
	obj.AccessMethods = []domain.AccessMethod{{
		Type:      "file",
		AccessURL: &domain.AccessURL{URL: "file:///data/NA18537.vcf.gz"},
	}}

	created, err := store.CreateDrsObject(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, "NA18537", created.ID)
	assert.Equal(t, "drs://localhost:3000/NA18537", created.SelfURI)
	assert.Equal(t, "test-htsget", created.Cohort)
	require.NotNil(t, created.Indexed)
	assert.Equal(t, 0, *created.Indexed)
	assert.Equal(t, "hg38", created.ReferenceGenome)
	require.Len(t, created.AccessMethods, 1)
	require.Len(t, created.Contents, 2)

	fetched, err := store.GetDrsObject(ctx, "NA18537")
	require.NoError(t, err)
	assert.Equal(t, created.SelfURI, fetched.SelfURI)

	// the referenced cohort was created implicitly
	cohort, err := store.GetCohort(ctx, "test-htsget")
	require.NoError(t, err)
	assert.Contains(t, cohort.DrsObjects, "drs://localhost:3000/NA18537")
}

func TestGetDrsObjectNotFound(t *testing.T) {
	store := createTestStore(t)
	_, err := store.GetDrsObject(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateDrsObjectIdempotent(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	obj := genomicObject("NA18537", "test-htsget")
	first, err := store.CreateDrsObject(ctx, obj)
	require.NoError(t, err)
	second, err := store.CreateDrsObject(ctx, obj)
	require.NoError(t, err)

	assert.Equal(t, first.SelfURI, second.SelfURI)
	assert.Len(t, second.Contents, 2)
	assert.Len(t, second.AccessMethods, 0)

	objs, err := store.ListDrsObjects(ctx, "test-htsget")
	require.NoError(t, err)
	assert.Len(t, objs, 1)
}

func TestDeleteDrsObjectCascades(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.CreateDrsObject(ctx, genomicObject("NA18537", "test-htsget"))
	require.NoError(t, err)
	_, err = store.CreateSample(ctx, "NA18537", "NA18537")
	require.NoError(t, err)
	require.NoError(t, store.AddHeadersForVariantFile(ctx, "NA18537", []string{"##fileformat=VCFv4.2"}))
	require.NoError(t, store.CreatePosBucket(ctx, PosBucketBatch{
		VariantFileID:     "NA18537",
		PosBucketIDs:      []int64{0},
		NormalizedContigs: []string{"21"},
		BucketCounts:      []int64{7},
	}))

	_, err = store.DeleteDrsObject(ctx, "NA18537")
	require.NoError(t, err)

	_, err = store.GetDrsObject(ctx, "NA18537")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetVariantFile(ctx, "NA18537")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	buckets, err := store.GetVariantCountForVariantFile(ctx, "NA18537", "chr21", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, buckets)
}

func TestDeleteCohortCascadesToObjects(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.CreateDrsObject(ctx, genomicObject("NA18537", "test-htsget"))
	require.NoError(t, err)
	_, err = store.CreateDrsObject(ctx, genomicObject("NA20787", "test-htsget"))
	require.NoError(t, err)

	deleted, err := store.DeleteCohort(ctx, "test-htsget")
	require.NoError(t, err)
	assert.Len(t, deleted.DrsObjects, 2)

	_, err = store.GetDrsObject(ctx, "NA18537")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVariantFileLifecycle(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.CreateVariantFile(ctx, "orphan", "hg38")
	assert.Error(t, err, "a variantfile needs its DRS object")

	_, err = store.CreateDrsObject(ctx, genomicObject("NA18537", "test-htsget"))
	require.NoError(t, err)

	vf, err := store.GetVariantFile(ctx, "NA18537")
	require.NoError(t, err)
	assert.Equal(t, 0, vf.Indexed)
	assert.Equal(t, "hg38", vf.ReferenceGenome)

	require.NoError(t, store.MarkVariantFileIndexed(ctx, "NA18537"))
	vf, err = store.GetVariantFile(ctx, "NA18537")
	require.NoError(t, err)
	assert.Equal(t, 1, vf.Indexed)

	require.NoError(t, store.MarkVariantFileNotIndexed(ctx, "NA18537"))
	vf, err = store.GetVariantFile(ctx, "NA18537")
	require.NoError(t, err)
	assert.Equal(t, 0, vf.Indexed)

	vf, err = store.SetVariantFilePrefix(ctx, "NA18537", "chr")
	require.NoError(t, err)
	assert.Equal(t, "chr", vf.ChrPrefix)
}

func TestNormalizeContig(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	cases := map[string]string{
		"chr21":       "21",
		"21":          "21",
		"NC_000021.9": "21",
		"NC_000021.8": "21",
		"MT":          "M",
		"chrX":        "X",
		"GL000194.1":  "",
	}
	for input, want := range cases {
		got, err := store.NormalizeContig(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, want, got, "normalize %q", input)
	}
}

func TestGetContigPrefix(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	prefix, err := store.GetContigPrefix(ctx, "chr21")
	require.NoError(t, err)
	assert.Equal(t, "chr", prefix)

	prefix, err = store.GetContigPrefix(ctx, "21")
	require.NoError(t, err)
	assert.Equal(t, "", prefix)
}

func TestGetContigNameInVariantFile(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.CreateDrsObject(ctx, genomicObject("NA18537", "test-htsget"))
	require.NoError(t, err)
	_, err = store.SetVariantFilePrefix(ctx, "NA18537", "chr")
	require.NoError(t, err)

	name, err := store.GetContigNameInVariantFile(ctx, "21", "NA18537")
	require.NoError(t, err)
	// chr_prefix + normalized
	assert.Equal(t, "chr21", name)

	_, err = store.GetContigNameInVariantFile(ctx, "bogus", "NA18537")
	assert.Error(t, err)
}

func TestHeadersDeduplicated(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.CreateDrsObject(ctx, genomicObject("a", "c1"))
	require.NoError(t, err)
	_, err = store.CreateDrsObject(ctx, genomicObject("b", "c1"))
	require.NoError(t, err)

	lines := []string{"##fileformat=VCFv4.2", "", "#CHROM\tPOS", "##source=test"}
	require.NoError(t, store.AddHeadersForVariantFile(ctx, "a", lines))
	require.NoError(t, store.AddHeadersForVariantFile(ctx, "b", lines))

	headersA, err := store.GetHeaders(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"##fileformat=VCFv4.2", "##source=test"}, headersA)

	headersB, err := store.GetHeaders(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, headersA, headersB)
}

func TestSamplesUniquePerVariantFile(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.CreateDrsObject(ctx, genomicObject("a", "c1"))
	require.NoError(t, err)

	first, err := store.CreateSample(ctx, "S1", "a")
	require.NoError(t, err)
	second, err := store.CreateSample(ctx, "S1", "a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	samples, err := store.GetSamplesInDrsObjects(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, samples)
}

func TestSearchRefseqsOrdering(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	rows := []domain.RefSeq{
		{ReferenceGenome: "hg38", GeneName: "NBPF1", TranscriptName: "NM_017940.4", Contig: "chr1", Start: 16890438, End: 16972982},
		{ReferenceGenome: "hg19", GeneName: "NBPF1", TranscriptName: "NM_017940.3", Contig: "chr1", Start: 16890438, End: 16972982},
		{ReferenceGenome: "hg38", GeneName: "NBPF10", TranscriptName: "NM_001302371.1", Contig: "chr1", Start: 145289900, End: 145425603},
	}
	for _, r := range rows {
		require.NoError(t, store.CreateRefseq(ctx, r))
	}

	genes, err := store.SearchRefseqs(ctx, "NBPF", "gene_name")
	require.NoError(t, err)
	require.Len(t, genes, 3)
	// ordered by gene name, then reference genome
	assert.Equal(t, "hg19", genes[0].ReferenceGenome)
	assert.Equal(t, "NBPF1", genes[0].GeneName)
	assert.Equal(t, "NBPF10", genes[2].GeneName)
}

func TestRefseqChromosomeLookups(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	name, err := store.GetRefseqForChromosome(ctx, "hg38", "21")
	require.NoError(t, err)
	assert.Equal(t, "NC_000021.9", name)

	contig, err := store.GetChromosomeForRefseq(ctx, "NC_000021.8")
	require.NoError(t, err)
	assert.Equal(t, "21", contig)
}

func TestPosBucketCountsAndRanges(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.CreateDrsObject(ctx, genomicObject("NA18537", "test-htsget"))
	require.NoError(t, err)

	batch := PosBucketBatch{
		VariantFileID:     "NA18537",
		PosBucketIDs:      []int64{10000000, 11000000, 12000000},
		NormalizedContigs: []string{"21", "21", "21"},
		BucketCounts:      []int64{5, 3, 2},
	}
	require.NoError(t, store.CreatePosBucket(ctx, batch))
	// upserts are idempotent
	require.NoError(t, store.CreatePosBucket(ctx, batch))

	all, err := store.GetVariantCountForVariantFile(ctx, "NA18537", "chr21", 0, -1)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(10000000), all[0].PosBucket)
	assert.Equal(t, int64(5), all[0].Count)

	// alias spellings narrow the same way
	ranged, err := store.GetVariantCountForVariantFile(ctx, "NA18537", "21", 10002800, 11050000)
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, int64(10000000), ranged[0].PosBucket)
	assert.Equal(t, int64(11000000), ranged[1].PosBucket)

	empty, err := store.GetVariantCountForVariantFile(ctx, "NA18537", "chr1", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSearchByRegionAndHeaders(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := store.CreateDrsObject(ctx, genomicObject(id, "c1"))
		require.NoError(t, err)
		require.NoError(t, store.CreatePosBucket(ctx, PosBucketBatch{
			VariantFileID:     id,
			PosBucketIDs:      []int64{5000000, 6000000},
			NormalizedContigs: []string{"21", "21"},
			BucketCounts:      []int64{4, 6},
		}))
	}
	require.NoError(t, store.AddHeadersForVariantFile(ctx, "a", []string{"##source=VarScan2"}))
	require.NoError(t, store.AddHeadersForVariantFile(ctx, "b", []string{"##source=other"}))

	start, end := int64(5030000), int64(5030847)
	results, err := store.Search(ctx, SearchQuery{
		Region: &domain.Region{ReferenceName: "21", Start: &start, End: &end},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(4), results[0].VariantCount)
	assert.Equal(t, "hg38", results[0].ReferenceGenome)

	results, err = store.Search(ctx, SearchQuery{
		Region:  &domain.Region{ReferenceName: "21", Start: &start, End: &end},
		Headers: []string{"VarScan"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].DrsObjectID)

	_, err = store.Search(ctx, SearchQuery{Region: &domain.Region{}})
	assert.Error(t, err, "a region search needs a referenceName")
}
