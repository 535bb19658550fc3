package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/garrettjstevens/jbrowse-utils/refseqs"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"
)

type prepareRefseqsFlags struct {
	gff          *string
	fastas       *string
	indexedFasta *string
	twoBit       *string
	sizes        *string
	gffSizes     *string
	out          *string
	noSort       *bool
	noSeq        *bool
	refs         *string
	compress     *bool
	chunkSize    *int
	noHash       *bool
	trackLabel   *string
	key          *string
	seqType      *string
	trackConfig  *string
	parallelism  *int
}

func newCmdPrepareRefseqs() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "prepare-refseqs",
		Short: "Format reference sequence data for use with JBrowse",
		Long: `
Command prepare-refseqs converts reference sequence data into the static
files a JBrowse instance serves: chunked sequence text under {out}/seq/, a
seq/refSeqs.json manifest, and a reference sequence track entry in
trackList.json.

Exactly one sequence source must be given: -gff, -fasta, -indexed-fasta,
-twobit, -sizes, or -gff-sizes.
`,
	}
	flags := prepareRefseqsFlags{
		gff:          cmd.Flags.String("gff", "", "GFF version 3 file with an embedded FASTA section"),
		fastas:       cmd.Flags.String("fasta", "", "Comma-separated FASTA files; .gz and .gzip files are read transparently"),
		indexedFasta: cmd.Flags.String("indexed-fasta", "", "FASTA file with a samtools faidx index; the <file>.fai index is generated when missing"),
		twoBit:       cmd.Flags.String("twobit", "", "UCSC 2bit file"),
		sizes:        cmd.Flags.String("sizes", "", "Comma-separated two-column 'name length' files"),
		gffSizes:     cmd.Flags.String("gff-sizes", "", "Comma-separated GFF files with ##sequence-region lines"),
		out:          cmd.Flags.String("out", refseqs.DefaultOpts.Out, "Directory to write to"),
		noSort:       cmd.Flags.Bool("nosort", false, "Preserve the source order of the sequences instead of sorting alphabetically (GFF, FASTA, and indexed FASTA input)"),
		noSeq:        cmd.Flags.Bool("noseq", false, "Do not store the actual sequence bases, just the sequence metadata (name, length, and so forth)"),
		refs:         cmd.Flags.String("refs", "", "Output only the sequences with the given comma-separated names"),
		compress:     cmd.Flags.Bool("compress", false, "Compress the sequence chunks with gzip, making the chunks .txtz files. NOTE: this requires a bit of additional web server configuration to be served correctly"),
		chunkSize:    cmd.Flags.Int("chunksize", refseqs.DefaultOpts.ChunkSize, "Size of the sequence chunks, in bases. Multiplied by 4 with -compress so that the compressed chunk files still end up approximately this size"),
		noHash:       cmd.Flags.Bool("nohash", false, "Store chunks in the flat seq/{name}/{chunk}.txt layout instead of the more scalable hashed directory layout"),
		trackLabel:   cmd.Flags.String("tracklabel", "", "Unique name of the sequence track; defaults to the -seqtype"),
		key:          cmd.Flags.String("key", refseqs.DefaultOpts.Key, "Displayed name of the sequence track"),
		seqType:      cmd.Flags.String("seqtype", refseqs.DefaultOpts.SeqType, "Name of the alphabet used for these sequences, usually dna, rna, or protein"),
		trackConfig:  cmd.Flags.String("trackconfig", "", `Additional track configuration merged into the track entry, in JSON syntax, e.g. '{"glyph": "ProcessedTranscript"}'`),
		parallelism:  cmd.Flags.Int("parallelism", refseqs.DefaultOpts.Parallelism, "Number of FASTA input files to process concurrently (sorted output only)"),
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("prepare-refseqs takes no positional arguments, but got %v", argv)
		}
		return prepareRefseqs(&flags)
	})
	return cmd
}

func prepareRefseqs(flags *prepareRefseqsFlags) error {
	src := refseqs.Source{
		GFF:          *flags.gff,
		Fastas:       splitList(*flags.fastas),
		IndexedFasta: *flags.indexedFasta,
		TwoBit:       *flags.twoBit,
		Sizes:        splitList(*flags.sizes),
		GFFSizes:     splitList(*flags.gffSizes),
	}
	opts := refseqs.DefaultOpts
	opts.Out = *flags.out
	opts.Sort = !*flags.noSort
	opts.Seq = !*flags.noSeq
	opts.Refs = splitList(*flags.refs)
	opts.Compress = *flags.compress
	opts.ChunkSize = *flags.chunkSize
	opts.Hash = !*flags.noHash
	opts.TrackLabel = *flags.trackLabel
	opts.Key = *flags.key
	opts.SeqType = *flags.seqType
	opts.Parallelism = *flags.parallelism
	if *flags.trackConfig != "" {
		if err := json.Unmarshal([]byte(*flags.trackConfig), &opts.TrackConfig); err != nil {
			return errors.E(errors.Invalid, fmt.Sprintf("parsing -trackconfig: %v", err))
		}
	}
	return refseqs.Prepare(vcontext.Background(), src, opts)
}

// splitList splits a comma-separated flag value, dropping empty elements.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
