package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccessID(t *testing.T) {
	id, err := ParseAccessID("http://minio:9000/mybucket/NA18537.vcf.gz")
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000", id.Endpoint)
	assert.Equal(t, "mybucket", id.Bucket)
	assert.Equal(t, "NA18537.vcf.gz", id.Object)
	assert.Empty(t, id.Access)
	assert.False(t, id.Public)
}

func TestParseAccessIDWithCredentials(t *testing.T) {
	id, err := ParseAccessID("https://s3.amazonaws.com/bucket/path/to/obj?access=AK&secret=SK")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.amazonaws.com", id.Endpoint)
	assert.Equal(t, "bucket", id.Bucket)
	assert.Equal(t, "path/to/obj", id.Object)
	assert.Equal(t, "AK", id.Access)
	assert.Equal(t, "SK", id.Secret)
}

func TestParseAccessIDPublic(t *testing.T) {
	id, err := ParseAccessID("http://minio:9000/open/data.vcf.gz?public=true")
	require.NoError(t, err)
	assert.True(t, id.Public)
}

func TestParseAccessIDNoScheme(t *testing.T) {
	id, err := ParseAccessID("minio:9000/bucket/obj.vcf.gz")
	require.NoError(t, err)
	assert.Equal(t, "minio:9000", id.Endpoint)
	assert.Equal(t, "bucket", id.Bucket)
	assert.Equal(t, "obj.vcf.gz", id.Object)
}

// Re-serializing the endpoint, bucket and object of a parsed access id and
// parsing the result again yields the same three parts.
func TestParseAccessIDRoundTrip(t *testing.T) {
	inputs := []string{
		"http://minio:9000/mybucket/NA18537.vcf.gz",
		"minio:9000/bucket/nested/path/obj",
		"https://s3.amazonaws.com/b/o",
	}
	for _, input := range inputs {
		id, err := ParseAccessID(input)
		require.NoError(t, err)
		reparsed, err := ParseAccessID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id.Endpoint, reparsed.Endpoint, input)
		assert.Equal(t, id.Bucket, reparsed.Bucket, input)
		assert.Equal(t, id.Object, reparsed.Object, input)
	}
}

func TestLocalPathForFileURL(t *testing.T) {
	path, err := LocalPathForFileURL("file:///data/files/NA18537.vcf.gz")
	require.NoError(t, err)
	assert.Equal(t, "/data/files/NA18537.vcf.gz", path)

	path, err = LocalPathForFileURL("file://localhost/data/x.vcf")
	require.NoError(t, err)
	assert.Equal(t, "/data/x.vcf", path)

	_, err = LocalPathForFileURL("file://remotehost/data/x.vcf")
	assert.Error(t, err)

	_, err = LocalPathForFileURL("http://example.com/x.vcf")
	assert.Error(t, err)
}
