// Package storage resolves DRS access methods into URLs and local paths,
// covering both local files and S3-compatible object stores.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// accessIDRe is the fixed access-id grammar:
// ENDPOINT/BUCKET/OBJECT[?access=K&secret=K[&public=true]]
var accessIDRe = regexp.MustCompile(`((https?://)*.+?)/(.+?)/(.+?)(\?(.+))*$`)

// AccessID is a parsed access-id string.
type AccessID struct {
	Endpoint string
	Bucket   string
	Object   string
	Access   string
	Secret   string
	Public   bool
}

// String re-serializes the endpoint/bucket/object triple.
func (a AccessID) String() string {
	return a.Endpoint + "/" + a.Bucket + "/" + a.Object
}

// ParseAccessID parses an access-id with the fixed grammar regex.
func ParseAccessID(raw string) (*AccessID, error) {
	m := accessIDRe.FindStringSubmatch(raw)
	if m == nil {
		return nil, domain.NewStatusError(400, "malformed access_id %q", raw)
	}
	id := &AccessID{
		Endpoint: m[1],
		Bucket:   m[3],
		Object:   m[4],
	}
	if m[6] != "" {
		// The object capture is lazy and stops before the query; trim any
		// query text left on it.
		id.Object = strings.TrimSuffix(id.Object, "?"+m[6])
		values, err := url.ParseQuery(m[6])
		if err != nil {
			return nil, domain.NewStatusError(400, "malformed access_id query %q", m[6])
		}
		id.Access = values.Get("access")
		id.Secret = values.Get("secret")
		id.Public = strings.EqualFold(values.Get("public"), "true")
	}
	return id, nil
}

// URLMetadata describes the resolved object.
type URLMetadata struct {
	ETag string `json:"etag,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// ResolvedURL is the result of access-url resolution.
type ResolvedURL struct {
	URL      string      `json:"url"`
	Metadata URLMetadata `json:"metadata"`
}

// Resolver turns access methods into URLs and local paths.
type Resolver struct {
	cfg     domain.S3Config
	log     *logrus.Logger
	tempDir string
}

// NewResolver creates a storage resolver. Downloads of S3 content land in
// tempDir (os.TempDir when empty).
func NewResolver(cfg domain.S3Config, tempDir string, logger *logrus.Logger) *Resolver {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Resolver{cfg: cfg, log: logger, tempDir: tempDir}
}

// client builds a minio client for the parsed access-id, preferring inline
// credentials, then the public flag, then the deployment's S3 defaults.
func (r *Resolver) client(id *AccessID) (*minio.Client, error) {
	endpoint := id.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	opts := &minio.Options{Secure: secure, Region: r.cfg.Region}
	switch {
	case id.Access != "" && id.Secret != "":
		opts.Creds = credentials.NewStaticV4(id.Access, id.Secret, "")
	case id.Public:
		opts.Creds = credentials.NewStaticV4("", "", "")
	default:
		opts.Creds = credentials.NewStaticV4(r.cfg.AccessKey, r.cfg.SecretKey, "")
	}
	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("creating s3 client for %s: %w", endpoint, err)
	}
	return client, nil
}

// ResolveAccessID resolves an access-id into a presigned (or public) URL
// with object metadata.
func (r *Resolver) ResolveAccessID(ctx context.Context, raw string) (*ResolvedURL, error) {
	id, err := ParseAccessID(raw)
	if err != nil {
		return nil, err
	}
	client, err := r.client(id)
	if err != nil {
		return nil, domain.NewStatusError(500, "%s", err.Error())
	}

	result := &ResolvedURL{}
	if id.Public {
		result.URL = strings.TrimSuffix(id.Endpoint, "/") + "/" + id.Bucket + "/" + id.Object
	} else {
		expiry := r.cfg.Expiry
		if expiry <= 0 {
			expiry = time.Hour
		}
		signed, err := client.PresignedGetObject(ctx, id.Bucket, id.Object, expiry, nil)
		if err != nil {
			return nil, domain.NewStatusError(500, "presigning %s: %s", raw, err.Error())
		}
		result.URL = signed.String()
	}

	// Metadata is best effort; public buckets may refuse stat calls.
	if stat, err := client.StatObject(ctx, id.Bucket, id.Object, minio.StatObjectOptions{}); err == nil {
		result.Metadata.ETag = stat.ETag
		result.Metadata.Size = stat.Size
	} else {
		r.log.WithFields(logrus.Fields{
			"access_id": raw,
			"error":     err,
		}).Debug("Could not stat object")
	}
	return result, nil
}

// LocalPathForFileURL resolves a file:// access URL into a local absolute
// path. Hosts "" and "localhost" are accepted.
func LocalPathForFileURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", domain.NewStatusError(400, "malformed file url %q", raw)
	}
	if u.Scheme != "file" {
		return "", domain.NewStatusError(400, "expected file url, got %q", raw)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", domain.NewStatusError(400, "unsupported file url host %q", u.Host)
	}
	return u.Path, nil
}

// FetchPath materializes the content behind an access method as a local
// path. Local files resolve directly; S3 objects are downloaded next to
// other temp content, keyed by bucket and object name so repeated fetches
// reuse the copy.
func (r *Resolver) FetchPath(ctx context.Context, method domain.AccessMethod) (string, error) {
	switch method.Type {
	case "file":
		if method.AccessURL == nil {
			return "", domain.NewStatusError(500, "file access method without url")
		}
		path, err := LocalPathForFileURL(method.AccessURL.URL)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); err != nil {
			return "", domain.NewStatusError(500, "file %s is not readable: %s", path, err.Error())
		}
		return path, nil
	case "s3":
		id, err := ParseAccessID(method.AccessID)
		if err != nil {
			return "", err
		}
		local := filepath.Join(r.tempDir, id.Bucket+"~"+filepath.Base(id.Object))
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
		client, err := r.client(id)
		if err != nil {
			return "", domain.NewStatusError(500, "%s", err.Error())
		}
		if err := client.FGetObject(ctx, id.Bucket, id.Object, local, minio.GetObjectOptions{}); err != nil {
			return "", domain.NewStatusError(500, "fetching %s: %s", method.AccessID, err.Error())
		}
		return local, nil
	}
	return "", domain.NewStatusError(500, "unsupported access method type %q", method.Type)
}
