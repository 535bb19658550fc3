// Package fasta contains code for reading (optionally indexed) FASTA files.
// See http://www.htslib.org/doc/faidx.html.  Briefly, FASTA files consist of
// a number of named sequences whose bases may be interrupted by newlines.
// For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Note: Sequence names are defined to be the stretch of characters excluding
// spaces immediately after '>'.  Any text appearing after a space is kept
// separately as the sequence's description.  For example, '>chr1 A viral
// sequence' becomes name 'chr1', description 'A viral sequence'.
package fasta

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Scanner streams the sequences of a FASTA file one at a time.  Bases are
// delivered through Read in whatever window size the caller asks for, so a
// multi-gigabyte sequence is never held in memory.  A typical loop:
//
//	sc := fasta.NewScanner(r)
//	for sc.Next() {
//		// sc.Name() and sc.Description() identify the sequence.
//		// Read the bases of the current sequence until io.EOF.
//	}
//	if sc.Err() != nil { ... }
//
// Calling Next before the current sequence's bases have been fully read
// discards the rest of that sequence.
type Scanner struct {
	r    *bufio.Reader
	name string
	desc string

	buf []byte // backing store for rem
	rem []byte // bases read from the input but not yet returned

	pendingHeader string
	inSeq         bool
	eof           bool
	lineno        int
	err           error
}

// NewScanner returns a Scanner reading FASTA data from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next advances to the next sequence in the input.  It returns false when
// the input is exhausted or a read error occurs; check Err afterwards.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	if s.inSeq { // Discard any unread bases of the current sequence.
		var scratch [4096]byte
		for {
			if _, err := s.Read(scratch[:]); err != nil {
				if err != io.EOF {
					return false
				}
				break
			}
		}
	}
	for s.pendingHeader == "" {
		if s.eof {
			return false
		}
		line, err := s.readLine()
		if err == io.EOF {
			return false
		}
		if err != nil {
			s.err = err
			return false
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if trimmed[0] != '>' {
			s.err = errors.Errorf("malformed FASTA: sequence data before first header (line %d)", s.lineno)
			return false
		}
		s.pendingHeader = string(trimmed)
	}
	header := strings.TrimSpace(strings.TrimPrefix(s.pendingHeader, ">"))
	s.pendingHeader = ""
	if header == "" {
		s.err = errors.Errorf("malformed FASTA: empty sequence name (line %d)", s.lineno)
		return false
	}
	if i := strings.IndexAny(header, " \t"); i >= 0 {
		s.name, s.desc = header[:i], strings.TrimSpace(header[i+1:])
	} else {
		s.name, s.desc = header, ""
	}
	s.inSeq = true
	s.rem = nil
	return true
}

// Name returns the name of the current sequence.
func (s *Scanner) Name() string { return s.name }

// Description returns the free text following the name on the current
// sequence's header line, or "" if there was none.
func (s *Scanner) Description() string { return s.desc }

// Read returns the bases of the current sequence, with line breaks and
// other whitespace removed.  It returns io.EOF at the end of the current
// sequence; the next call to Next starts the following one.
func (s *Scanner) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if !s.inSeq {
		return 0, io.EOF
	}
	for len(s.rem) == 0 {
		if s.eof {
			s.inSeq = false
			return 0, io.EOF
		}
		line, err := s.readLine()
		if err == io.EOF {
			s.inSeq = false
			return 0, io.EOF
		}
		if err != nil {
			s.err = err
			return 0, err
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if trimmed[0] == '>' {
			s.pendingHeader = string(trimmed)
			s.inSeq = false
			return 0, io.EOF
		}
		s.buf = append(s.buf[:0], dropSpace(trimmed)...)
		s.rem = s.buf
	}
	n := copy(p, s.rem)
	s.rem = s.rem[n:]
	return n, nil
}

// Err returns the first error encountered while scanning, excluding io.EOF.
func (s *Scanner) Err() error { return s.err }

// readLine returns the next input line without its trailing newline.  The
// final line is returned even if unterminated; io.EOF is only returned once
// no content remains.
func (s *Scanner) readLine() ([]byte, error) {
	line, err := s.r.ReadBytes('\n')
	if err == io.EOF {
		s.eof = true
		if len(line) == 0 {
			return nil, io.EOF
		}
		err = nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	s.lineno++
	return bytes.TrimRight(line, "\r\n"), nil
}

// dropSpace removes every whitespace byte from a sequence line, in place.
func dropSpace(line []byte) []byte {
	if bytes.IndexAny(line, " \t\v\f\r") < 0 {
		return line
	}
	out := line[:0]
	for _, c := range line {
		switch c {
		case ' ', '\t', '\v', '\f', '\r':
		default:
			out = append(out, c)
		}
	}
	return out
}
