package variant

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// VCFReader streams records from a plain or gzip-compressed VCF file. There
// is no index dependency; region fetches filter a full scan, which the
// position-bucket index keeps acceptably small for the slice sizes the
// planner produces.
type VCFReader struct {
	path   string
	header *Header
}

// OpenVCF opens a VCF file and parses its header block.
func OpenVCF(path string) (*VCFReader, error) {
	rc, err := openMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("opening vcf %s: %w", path, err)
	}
	defer rc.Close()

	header := &Header{}
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "#") {
			break
		}
		header.Lines = append(header.Lines, line)
		if strings.HasPrefix(line, "##contig=") {
			if id := structuredField(line, "ID"); id != "" {
				header.Contigs = append(header.Contigs, id)
			}
			continue
		}
		if strings.HasPrefix(line, "#CHROM") {
			cols := strings.Split(line, "\t")
			// fixed columns end at FORMAT; anything after is a sample
			if len(cols) > 9 {
				header.Samples = append(header.Samples, cols[9:]...)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vcf header %s: %w", path, err)
	}
	if len(header.Lines) == 0 {
		return nil, fmt.Errorf("reading vcf %s: no header lines", path)
	}
	return &VCFReader{path: path, header: header}, nil
}

// structuredField pulls one key's value out of a ##key=<...> header line.
func structuredField(line, key string) string {
	open := strings.Index(line, "<")
	if open < 0 {
		return ""
	}
	body := strings.TrimSuffix(line[open+1:], ">")
	for _, field := range strings.Split(body, ",") {
		if kv := strings.SplitN(field, "=", 2); len(kv) == 2 && kv[0] == key {
			return kv[1]
		}
	}
	return ""
}

// Header returns the parsed header block.
func (v *VCFReader) Header() *Header {
	return v.header
}

// Fetch streams records, optionally restricted to a contig and 0-based
// half-open range.
func (v *VCFReader) Fetch(contig string, start, end int64) (Scanner, error) {
	rc, err := openMaybeGzip(v.path)
	if err != nil {
		return nil, fmt.Errorf("opening vcf %s: %w", v.path, err)
	}
	s := bufio.NewScanner(rc)
	s.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	return &vcfScanner{
		rc:     rc,
		s:      s,
		contig: contig,
		start:  start,
		end:    end,
	}, nil
}

// Close releases the reader. The underlying file handle only lives for the
// duration of a Fetch.
func (v *VCFReader) Close() error {
	return nil
}

type vcfScanner struct {
	rc     io.ReadCloser
	s      *bufio.Scanner
	contig string
	start  int64
	end    int64
	rec    Record
	err    error
}

func (sc *vcfScanner) Next() bool {
	for sc.s.Scan() {
		line := sc.s.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		contig := line[:tab]
		rest := line[tab+1:]
		tab2 := strings.IndexByte(rest, '\t')
		if tab2 < 0 {
			continue
		}
		pos, err := strconv.ParseInt(rest[:tab2], 10, 64)
		if err != nil {
			continue
		}
		if sc.contig != "" && contig != sc.contig {
			continue
		}
		// pysam-style half-open interbase range
		if sc.start > 0 && pos-1 < sc.start {
			continue
		}
		if sc.end >= 0 && pos-1 >= sc.end {
			continue
		}
		sc.rec = Record{Contig: contig, Pos: pos, Line: line}
		return true
	}
	sc.err = sc.s.Err()
	return false
}

func (sc *vcfScanner) Record() Record {
	return sc.rec
}

func (sc *vcfScanner) Err() error {
	return sc.err
}

func (sc *vcfScanner) Close() error {
	return sc.rc.Close()
}

// openMaybeGzip opens a file, transparently decompressing gzip content by
// magic bytes rather than extension.
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err == nil && len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return &gzipReadCloser{gz: gz, f: f}, nil
	}
	return &bufferedReadCloser{br: br, f: f}, nil
}

type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	g.gz.Close()
	return g.f.Close()
}

type bufferedReadCloser struct {
	br *bufio.Reader
	f  *os.File
}

func (b *bufferedReadCloser) Read(p []byte) (int, error) { return b.br.Read(p) }

func (b *bufferedReadCloser) Close() error              { return b.f.Close() }
