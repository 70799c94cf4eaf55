// Package htsget plans and serves htsget tickets: ordered, bounded URL
// slices that together reconstruct a filtered genomic file.
package htsget

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/authz"
	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/domain"
	"github.com/CanDIG/htsget-app/internal/storage"
	"github.com/CanDIG/htsget-app/internal/variant"
)

// Service serves htsget tickets and data slices.
type Service struct {
	Store        *catalog.Store
	Materializer *storage.Materializer
	Gate         *authz.Gate
	Cfg          domain.HtsgetConfig
	IndexingPath string
	Log          *logrus.Logger
}

// TicketURL is one slice URL in a ticket.
type TicketURL struct {
	URL   string `json:"url"`
	Class string `json:"class,omitempty"`
}

// TicketBody is the htsget envelope payload.
type TicketBody struct {
	Format string      `json:"format"`
	URLs   []TicketURL `json:"urls"`
}

// Ticket is an htsget ticket response.
type Ticket struct {
	Htsget TicketBody `json:"htsget"`
}

// baseURL builds the ticket or data URL prefix for a file type.
func (s *Service) baseURL(fileType, id string, data bool) string {
	if data {
		return fmt.Sprintf("%s/htsget/v1/%ss/data/%s", s.Cfg.URL, fileType, id)
	}
	return fmt.Sprintf("%s/htsget/v1/%ss/%s", s.Cfg.URL, fileType, id)
}

// sliceURL builds a single body-slice URL for a region of a file.
func (s *Service) sliceURL(fileType, id, referenceName string, start, end *int64) TicketURL {
	params := url.Values{}
	params.Set("class", "body")
	if referenceName != "" {
		params.Set("referenceName", referenceName)
		if start != nil {
			params.Set("start", strconv.FormatInt(*start, 10))
		}
		if end != nil {
			params.Set("end", strconv.FormatInt(*end, 10))
		}
	}
	return TicketURL{
		URL:   s.baseURL(fileType, id, true) + "?" + params.Encode(),
		Class: "body",
	}
}

type chunk struct {
	count int64
	start int64
	end   int64
}

// bodyURLs folds the bucket list for a region into slice URLs whose record
// counts are approximately capped by the configured chunk size. The cap is
// checked before adding each bucket, so a chunk may overshoot it by one
// bucket. The bucket that finds the cap exceeded is added to neither chunk:
// the new chunk starts one past the previous end and takes its end from the
// buckets after it, or from the trailing-chunk rule when there are none.
func (s *Service) bodyURLs(ctx context.Context, fileType, id, referenceName string, start, end *int64) ([]TicketURL, error) {
	qstart := int64(0)
	if start != nil {
		qstart = *start
	}
	qend := int64(-1)
	if end != nil {
		qend = *end
	}
	buckets, err := s.Store.GetVariantCountForVariantFile(ctx, id, referenceName, qstart, qend)
	if err != nil {
		return nil, err
	}

	chunks := []chunk{{count: 0, start: qstart, end: 0}}
	for _, b := range buckets {
		c := &chunks[len(chunks)-1]
		if c.count <= s.Cfg.ChunkSize {
			c.count += b.Count
			c.end = b.PosBucket
		} else {
			chunks = append(chunks, chunk{count: 0, start: c.end + 1, end: c.end + 1})
		}
	}
	// The trailing chunk honors a concrete end exactly; an open end widens
	// by one bucket so the last partial bucket is still fetched.
	last := &chunks[len(chunks)-1]
	if qend != -1 {
		last.end = qend
	} else {
		last.end += s.Store.BucketSize()
	}

	urls := make([]TicketURL, 0, len(chunks))
	for _, c := range chunks {
		cs, ce := c.start, c.end
		urls = append(urls, s.sliceURL(fileType, id, referenceName, &cs, &ce))
	}
	return urls, nil
}

// Ticket builds the htsget ticket for a file: the header URL first, then
// body slices unless only the header class was requested.
func (s *Service) Ticket(ctx context.Context, fileType, id, referenceName string, start, end *int64, class string) (*Ticket, *domain.StatusError) {
	if start != nil && *start < 0 {
		return nil, domain.NewStatusError(400, "start cannot be negative")
	}
	if start != nil && end != nil && *end != -1 && *end < *start {
		return nil, domain.NewStatusError(400, "end cannot be less than start")
	}

	obj, err := s.Store.GetDrsObject(ctx, id)
	if err != nil {
		return nil, domain.NewStatusError(404, "No %s found for id: %s, try using the other endpoint", fileType, id)
	}
	format := ""
	for _, c := range obj.Contents {
		role := domain.ClassifyContent(c)
		if role == domain.ContentRead || role == domain.ContentVariant {
			format = variant.FormatForName(c.Name)
		}
	}
	if format == "" {
		return nil, domain.NewStatusError(404, "No %s found for id: %s, try using the other endpoint", fileType, id)
	}

	ticket := &Ticket{Htsget: TicketBody{
		Format: format,
		URLs: []TicketURL{{
			URL:   s.baseURL(fileType, id, true) + "?class=header",
			Class: "header",
		}},
	}}
	if class == "header" {
		return ticket, nil
	}

	body, err := s.bodyURLs(ctx, fileType, id, referenceName, start, end)
	if err != nil {
		return nil, domain.NewStatusError(500, "building slices for %s: %s", id, err.Error())
	}
	ticket.Htsget.URLs = append(ticket.Htsget.URLs, body...)
	return ticket, nil
}

// Data streams the bytes of one slice. An absent class writes header and
// body both; class=header writes only the header text.
func (s *Service) Data(c *gin.Context, id string) {
	referenceName := c.Query("referenceName")
	if referenceName == "None" {
		referenceName = ""
	}
	start, serr := queryInt(c, "start")
	if serr != nil {
		c.JSON(400, gin.H{"message": serr.Error()})
		return
	}
	end, eerr := queryInt(c, "end")
	if eerr != nil {
		c.JSON(400, gin.H{"message": eerr.Error()})
		return
	}
	class := c.Query("class")
	format := c.DefaultQuery("format", "VCF")

	if start != nil && end != nil && *end != -1 && *end < *start {
		c.JSON(400, gin.H{"message": "end cannot be less than start"})
		return
	}

	fetchStart := int64(0)
	if start != nil {
		fetchStart = *start
	}
	fetchEnd := int64(-1)
	if end != nil {
		fetchEnd = *end
	}

	genObj, gerr := s.Materializer.GetGenomicObject(c.Request.Context(), id)
	if gerr != nil {
		c.JSON(domain.StatusOf(gerr), gin.H{"message": gerr.Error()})
		return
	}
	defer genObj.File.Close()

	fileName := fmt.Sprintf("%s.%s", id, strings.ToLower(format))
	ntf, err := os.CreateTemp("", "htsget*")
	if err != nil {
		c.JSON(500, gin.H{"message": fmt.Sprintf("creating response file: %s", err)})
		return
	}
	defer os.Remove(ntf.Name())

	if class == "" || class == "header" {
		if _, err := ntf.WriteString(genObj.File.Header().String()); err != nil {
			ntf.Close()
			c.JSON(500, gin.H{"message": fmt.Sprintf("writing header: %s", err)})
			return
		}
	}
	if class == "" || class == "body" {
		refName := ""
		if referenceName != "" {
			translated, err := s.Store.GetContigNameInVariantFile(c.Request.Context(), referenceName, id)
			if err == nil {
				refName = translated
			} else {
				refName = referenceName
			}
		}
		scanner, err := genObj.File.Fetch(refName, fetchStart, fetchEnd)
		if err != nil {
			ntf.Close()
			c.JSON(400, gin.H{"message": err.Error()})
			return
		}
		for scanner.Next() {
			rec := scanner.Record()
			if _, err := ntf.WriteString(rec.String() + "\n"); err != nil {
				scanner.Close()
				ntf.Close()
				c.JSON(500, gin.H{"message": fmt.Sprintf("writing record: %s", err)})
				return
			}
		}
		scanErr := scanner.Err()
		scanner.Close()
		if scanErr != nil {
			ntf.Close()
			c.JSON(400, gin.H{"message": scanErr.Error()})
			return
		}
	}
	if err := ntf.Close(); err != nil {
		c.JSON(500, gin.H{"message": fmt.Sprintf("closing response file: %s", err)})
		return
	}

	c.Header("x-filename", fileName)
	c.Header("Access-Control-Expose-Headers", "x-filename")
	c.FileAttachment(ntf.Name(), fileName)
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, name string) (*int64, error) {
	raw := c.Query(name)
	if raw == "" || raw == "None" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return &v, nil
}
