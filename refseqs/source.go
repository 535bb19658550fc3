package refseqs

import (
	"github.com/grailbio/base/errors"
)

// Source selects the reference sequence input.  Exactly one field must be
// set.
type Source struct {
	// GFF is a GFF version 3 file with an embedded FASTA section.
	GFF string
	// Fastas are FASTA files; .gz and .gzip files are read transparently.
	Fastas []string
	// IndexedFasta is a FASTA file with a samtools faidx companion,
	// <IndexedFasta>.fai.  If the index is missing it is generated.
	IndexedFasta string
	// TwoBit is a UCSC 2bit file.
	TwoBit string
	// Sizes are two-column "name length" files.
	Sizes []string
	// GFFSizes are GFF files containing ##sequence-region lines.
	GFFSizes []string
}

// Validate checks that exactly one input is configured.  It runs before any
// file is opened.
func (s *Source) Validate() error {
	n := 0
	if s.GFF != "" {
		n++
	}
	if len(s.Fastas) > 0 {
		n++
	}
	if s.IndexedFasta != "" {
		n++
	}
	if s.TwoBit != "" {
		n++
	}
	if len(s.Sizes) > 0 {
		n++
	}
	if len(s.GFFSizes) > 0 {
		n++
	}
	if n != 1 {
		return errors.E(errors.Invalid,
			"exactly one of -gff, -fasta, -indexed-fasta, -twobit, -sizes, or -gff-sizes must be specified")
	}
	return nil
}
