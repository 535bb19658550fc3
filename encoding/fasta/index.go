package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// Index files consist of one tab-separated line per sequence in the
// associated FASTA file.  The format is: "<sequence name>\t<length>\t<byte
// offset>\t<bases per line>\t<bytes per line>".
// For example: "chr3\t12345\t9000\t80\t81".
var indexRegExp = regexp.MustCompile(`^(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)$`)

// IndexEntry describes one sequence of an indexed FASTA file, as recorded
// in its .fai companion.
type IndexEntry struct {
	Name      string
	Length    int64
	Offset    int64
	LineBase  int64 // bases per line
	LineWidth int64 // bytes per line, including the newline
}

// ParseIndex reads a .fai index and returns its entries in file order.
func ParseIndex(in io.Reader) ([]IndexEntry, error) {
	var (
		entries []IndexEntry
		lineno  int
	)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		matches := indexRegExp.FindStringSubmatch(line)
		if matches == nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid index line %d: %s", lineno, line))
		}
		ent := IndexEntry{Name: matches[1]}
		ent.Length, _ = strconv.ParseInt(matches[2], 10, 64)
		ent.Offset, _ = strconv.ParseInt(matches[3], 10, 64)
		ent.LineBase, _ = strconv.ParseInt(matches[4], 10, 64)
		ent.LineWidth, _ = strconv.ParseInt(matches[5], 10, 64)
		entries = append(entries, ent)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// GenerateIndex generates an index (*.fai) from FASTA.  The index can later
// be used to random-access the FASTA file quickly.
//
// The index format is defined by "samtools faidx"
// (http://www.htslib.org/doc/faidx.html).
func GenerateIndex(out io.Writer, in io.Reader) (err error) {
	var (
		tsvOut      = tsv.NewWriter(out)
		r           = bufio.NewReader(in)
		seqName     string
		seqStartOff int64
		totalBases  int
		lineBases   int
		lineWidth   int
		cumByte     int64
		eof         bool
	)

	setErr := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	flush := func() {
		tsvOut.WriteString(seqName)
		tsvOut.WriteInt64(int64(totalBases))
		tsvOut.WriteInt64(seqStartOff)
		tsvOut.WriteInt64(int64(lineBases))
		tsvOut.WriteInt64(int64(lineWidth))
		setErr(tsvOut.EndLine())
	}
	for !eof && err == nil {
		fullLine, e := r.ReadBytes('\n')
		if e == io.EOF { // Process fullLine, then exit the loop
			eof = true
		} else if e != nil {
			setErr(e)
		}
		cumByte += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' { // Start a new sequence.
			if lineWidth != 0 {
				if seqName == "" {
					setErr(errors.E("malformed FASTA file"))
				}
				flush()
			}
			seqName = strings.Split(string(line[1:]), " ")[0]
			seqStartOff = cumByte
			lineWidth = 0
			lineBases = 0
			totalBases = 0
			continue
		}
		if lineWidth == 0 {
			lineWidth = len(fullLine)
			lineBases = len(line)
		}
		totalBases += len(line)
	}
	flush()
	setErr(tsvOut.Flush())
	if cumByte == 0 {
		setErr(errors.E("empty FASTA file"))
	}
	return
}
