// Package refseqs formats reference sequence data as the static, chunked
// directory layout served to JBrowse clients.  The input comes from one of
// several sources (FASTA, GFF3 with an embedded FASTA section, indexed
// FASTA, 2bit, or sizes files); the output is a data directory containing
// sequence chunks under seq/, a seq/refSeqs.json manifest enumerating the
// sequences, and a reference sequence track entry in trackList.json.
package refseqs

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Opts controls the output of Prepare.  The zero value is not useful; start
// from DefaultOpts.
type Opts struct {
	// Out is the data directory to write to.
	Out string
	// Sort orders sequences alphabetically by name in the manifest.  When
	// false, sources with a meaningful order (FASTA, GFF, indexed FASTA)
	// keep their encounter order instead.
	Sort bool
	// Seq stores the actual sequence bases.  When false only the sequence
	// metadata (name, length, and so forth) is recorded, and no track entry
	// is written.
	Seq bool
	// Refs, when non-empty, restricts output to the named sequences.
	// Requested names absent from the source are logged, not errors.
	Refs []string
	// Compress gzips each sequence chunk individually, making the chunks
	// .txtz files.  Serving them requires the .htaccess this tool writes, or
	// equivalent web server configuration.
	Compress bool
	// ChunkSize is the size of the sequence chunks, in bases.  It is
	// multiplied by 4 when Compress is set so that compressed chunk files
	// still end up approximately this size.
	ChunkSize int
	// Hash stores chunks under nested hash directories,
	// seq/1a2/b3c/4d/{name}-{chunk}.txt.  When false the flat (less
	// scalable) seq/{name}/{chunk}.txt layout is used.
	Hash bool
	// TrackLabel is the unique name of the sequence track.  Defaults to the
	// sequence type.
	TrackLabel string
	// Key is the displayed name of the sequence track.
	Key string
	// SeqType names the alphabet of the sequences, usually "dna", "rna", or
	// "protein".
	SeqType string
	// TrackConfig is extra configuration merged into the track entry.  Keys
	// supplied here win over the generated ones.
	TrackConfig map[string]interface{}
	// Parallelism is the number of input files processed concurrently.
	// Only multi-file FASTA input benefits; order-preserving runs are
	// always sequential.
	Parallelism int
}

// DefaultOpts matches the defaults of the prepare-refseqs command.
var DefaultOpts = Opts{
	Out:         "data/",
	Sort:        true,
	Seq:         true,
	ChunkSize:   20000,
	Hash:        true,
	Key:         "Reference sequence",
	SeqType:     "dna",
	Parallelism: 1,
}

func (o *Opts) validate() error {
	if o.ChunkSize <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("chunk size must be a positive number of bases, not %d", o.ChunkSize))
	}
	if o.SeqType == "" {
		return errors.E(errors.Invalid, "sequence type must not be empty")
	}
	if o.Out == "" {
		return errors.E(errors.Invalid, "output directory must not be empty")
	}
	return nil
}
