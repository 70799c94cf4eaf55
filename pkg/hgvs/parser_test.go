package hgvs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShortForm(t *testing.T) {
	form, err := Parse("NC_000021.9:g.5030847T>A")
	require.NoError(t, err)
	assert.Equal(t, "NC_000021.9", form.SeqID)
	assert.Equal(t, int64(5030847), form.Pos)
	assert.Equal(t, "T>A", form.Change)

	_, err = Parse("garbage")
	assert.Error(t, err)
}

func TestResolveSubstitution(t *testing.T) {
	form, err := Parse("NC_000021.9:g.5030847T>A")
	require.NoError(t, err)
	loc, err := form.Resolve(form.Pos)
	require.NoError(t, err)
	assert.Equal(t, Substitution, loc.Type)
	assert.Equal(t, int64(5030847), loc.Start)
	assert.Equal(t, int64(5030848), loc.End)
	assert.Equal(t, "T", loc.Ref)
	assert.Equal(t, "A", loc.Alt)
}

func TestResolveReferenceAllele(t *testing.T) {
	form, err := Parse("NC_000021.9:g.5030847T=")
	require.NoError(t, err)
	loc, err := form.Resolve(form.Pos)
	require.NoError(t, err)
	assert.Equal(t, Substitution, loc.Type)
	assert.Equal(t, "T", loc.Ref)
	assert.Equal(t, "", loc.Alt)
}

func TestResolveDeletion(t *testing.T) {
	form, err := Parse("NC_000001.11:g.100_105del")
	require.NoError(t, err)
	loc, err := form.Resolve(form.Pos)
	require.NoError(t, err)
	assert.Equal(t, Deletion, loc.Type)
	// deletions back off to the base before
	assert.Equal(t, int64(99), loc.Start)
	assert.Equal(t, int64(105), loc.End)
	assert.Equal(t, "NNNNNN", loc.Ref)
	assert.Equal(t, "N", loc.Alt)
}

func TestResolveInsertion(t *testing.T) {
	form, err := Parse("NC_000001.11:g.100_101insACGT")
	require.NoError(t, err)
	loc, err := form.Resolve(form.Pos)
	require.NoError(t, err)
	assert.Equal(t, Insertion, loc.Type)
	assert.Equal(t, int64(99), loc.Start)
	assert.Equal(t, "NA", loc.Ref)
	assert.Equal(t, "NACGT", loc.Alt)
	assert.Equal(t, int64(105), loc.End)
}

func TestResolveDuplication(t *testing.T) {
	form, err := Parse("NC_000001.11:g.100_110dup")
	require.NoError(t, err)
	loc, err := form.Resolve(form.Pos)
	require.NoError(t, err)
	assert.Equal(t, Duplication, loc.Type)
	assert.Equal(t, int64(120), loc.End)
}

func TestResolveInversionUsesOwnEnd(t *testing.T) {
	form, err := Parse("NC_000001.11:g.100_110inv")
	require.NoError(t, err)
	loc, err := form.Resolve(form.Pos)
	require.NoError(t, err)
	assert.Equal(t, Inversion, loc.Type)
	assert.Equal(t, int64(100), loc.Start)
	assert.Equal(t, int64(110), loc.End)
}

func TestResolveDelins(t *testing.T) {
	form, err := Parse("NC_000001.11:g.100_103delinsGG")
	require.NoError(t, err)
	loc, err := form.Resolve(form.Pos)
	require.NoError(t, err)
	assert.Equal(t, Delins, loc.Type)
	assert.Equal(t, int64(103), loc.End)
	assert.Equal(t, "NNN", loc.Ref)
	assert.Equal(t, "GG", loc.Alt)
}

func TestResolveRepeat(t *testing.T) {
	form, err := Parse("NC_000001.11:g.100AC[3]")
	require.NoError(t, err)
	loc, err := form.Resolve(form.Pos)
	require.NoError(t, err)
	assert.Equal(t, Repeat, loc.Type)
	assert.Equal(t, "AC", loc.Ref)
	assert.Equal(t, "ACACAC", loc.Alt)
	assert.Equal(t, int64(102), loc.End)
}

// A canonical SNP short form survives the trip through location resolution
// and back into resultset notation.
func TestSNPRoundTrip(t *testing.T) {
	form, err := Parse("NC_000021.9:g.5030847T>A")
	require.NoError(t, err)
	loc, err := form.Resolve(form.Pos)
	require.NoError(t, err)
	rebuilt := "NC_000021.9:g.5030847" + loc.Ref + ">" + loc.Alt
	assert.Equal(t, "NC_000021.9:g.5030847T>A", rebuilt)
}
