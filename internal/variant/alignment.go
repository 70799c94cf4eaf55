package variant

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// SAMReader streams alignment records from a SAM text file. Binary
// alignment containers (BAM, CRAM) need an external parser and are not
// readable here; callers surface that as an integrity failure.
type SAMReader struct {
	path   string
	header *Header
}

// OpenAlignment opens an alignment file for the given format.
func OpenAlignment(path, format string) (Reader, error) {
	switch strings.ToUpper(format) {
	case FormatSAM:
		return openSAM(path)
	case FormatBAM, FormatCRAM:
		return nil, fmt.Errorf("no parser available for %s file %s", strings.ToUpper(format), path)
	}
	return nil, fmt.Errorf("unrecognized alignment format %q for %s", format, path)
}

func openSAM(path string) (*SAMReader, error) {
	rc, err := openMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("opening sam %s: %w", path, err)
	}
	defer rc.Close()

	header := &Header{}
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "@") {
			break
		}
		header.Lines = append(header.Lines, line)
		if strings.HasPrefix(line, "@SQ") {
			for _, field := range strings.Split(line, "\t")[1:] {
				if strings.HasPrefix(field, "SN:") {
					header.Contigs = append(header.Contigs, strings.TrimPrefix(field, "SN:"))
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading sam header %s: %w", path, err)
	}
	return &SAMReader{path: path, header: header}, nil
}

// Header returns the parsed header block. SAM headers carry reference
// sequences, not samples.
func (r *SAMReader) Header() *Header {
	return r.header
}

// Fetch streams alignment records restricted to a contig and range.
func (r *SAMReader) Fetch(contig string, start, end int64) (Scanner, error) {
	rc, err := openMaybeGzip(r.path)
	if err != nil {
		return nil, fmt.Errorf("opening sam %s: %w", r.path, err)
	}
	s := bufio.NewScanner(rc)
	s.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	return &samScanner{rc: rc, s: s, contig: contig, start: start, end: end}, nil
}

func (r *SAMReader) Close() error {
	return nil
}

type samScanner struct {
	rc     interface{ Close() error }
	s      *bufio.Scanner
	contig string
	start  int64
	end    int64
	rec    Record
	err    error
}

func (sc *samScanner) Next() bool {
	for sc.s.Scan() {
		line := sc.s.Text()
		if line == "" || strings.HasPrefix(line, "@") {
			continue
		}
		cols := strings.SplitN(line, "\t", 5)
		if len(cols) < 4 {
			continue
		}
		contig := cols[2]
		pos, err := strconv.ParseInt(cols[3], 10, 64)
		if err != nil {
			continue
		}
		if sc.contig != "" && contig != sc.contig {
			continue
		}
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

func (sc *samScanner) Record() Record { return sc.rec }

func (sc *samScanner) Err() error { return sc.err }

func (sc *samScanner) Close() error { return sc.rc.Close() }
