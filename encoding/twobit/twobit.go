// Package twobit reads the header and sequence table of UCSC 2bit files
// (https://genome.ucsc.edu/FAQ/FAQformat.html#format7).  Only the metadata
// needed to enumerate sequences is parsed; the packed bases themselves are
// not decoded.
package twobit

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
)

// signature is the first header field of every 2bit file, written in the
// byte order of the producing machine.
const signature = 0x1A412743

// Seq describes one sequence record of a 2bit file.
type Seq struct {
	Name   string
	Offset uint32 // byte offset of the sequence record within the file
	Length uint32 // number of bases
}

// Read parses the table of contents of a 2bit file and returns each
// sequence's name and length, in file order.  Files written in either byte
// order are accepted.
func Read(r io.ReadSeeker) ([]Seq, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.E(err, "reading 2bit header")
	}
	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(hdr[0:4]) != signature {
		if binary.BigEndian.Uint32(hdr[0:4]) != signature {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid 2bit signature %#08x", binary.BigEndian.Uint32(hdr[0:4])))
		}
		order = binary.BigEndian
	}
	// Header layout: signature, version, sequence count, reserved.
	count := order.Uint32(hdr[8:12])

	seqs := make([]Seq, 0, count)
	for i := uint32(0); i < count; i++ {
		var nameSize [1]byte
		if _, err := io.ReadFull(r, nameSize[:]); err != nil {
			return nil, errors.E(err, "reading 2bit sequence table")
		}
		name := make([]byte, nameSize[0])
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, errors.E(err, "reading 2bit sequence table")
		}
		var off [4]byte
		if _, err := io.ReadFull(r, off[:]); err != nil {
			return nil, errors.E(err, "reading 2bit sequence table")
		}
		seqs = append(seqs, Seq{Name: string(name), Offset: order.Uint32(off[:])})
	}
	// Each sequence record begins with its dnaSize.
	for i := range seqs {
		if _, err := r.Seek(int64(seqs[i].Offset), io.SeekStart); err != nil {
			return nil, errors.E(err, fmt.Sprintf("seeking to 2bit record for %s", seqs[i].Name))
		}
		var raw [4]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return nil, errors.E(err, fmt.Sprintf("reading 2bit record for %s", seqs[i].Name))
		}
		seqs[i].Length = order.Uint32(raw[:])
	}
	return seqs, nil
}
