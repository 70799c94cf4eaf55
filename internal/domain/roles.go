package domain

import "regexp"

// Role tags on DrsObject.Description.
const (
	RoleWGS     = "wgs"
	RoleWTS     = "wts"
	RoleVariant = "variant"
	RoleRead    = "read"
	RoleIndex   = "index"
	RoleSample  = "sample"
)

// ContentRole classifies a ContentsObject within a GenomicDrsObject.
type ContentRole int

const (
	ContentSample ContentRole = iota
	ContentIndex
	ContentRead
	ContentVariant
)

func (r ContentRole) String() string {
	switch r {
	case ContentIndex:
		return RoleIndex
	case ContentRead:
		return RoleRead
	case ContentVariant:
		return RoleVariant
	}
	return RoleSample
}

// Filename heuristics for legacy rows whose contents carry no explicit role.
var (
	indexNameRe   = regexp.MustCompile(`\.(..*i)$`)
	readNameRe    = regexp.MustCompile(`\.(.+?am)$`)
	variantNameRe = regexp.MustCompile(`\.(.cf)(\.gz)*$`)
)

// ClassifyContent determines a ContentsObject's role. Explicitly tagged ids
// (variant, read, index) win; otherwise the filename decides, and anything
// unrecognized is a sample mapping.
func ClassifyContent(c ContentsObject) ContentRole {
	switch c.ID {
	case RoleIndex:
		return ContentIndex
	case RoleRead:
		return ContentRead
	case RoleVariant:
		return ContentVariant
	}
	switch {
	case indexNameRe.MatchString(c.Name):
		return ContentIndex
	case readNameRe.MatchString(c.Name):
		return ContentRead
	case variantNameRe.MatchString(c.Name):
		return ContentVariant
	}
	return ContentSample
}
