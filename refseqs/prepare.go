package refseqs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/garrettjstevens/jbrowse-utils/encoding/fasta"
	"github.com/garrettjstevens/jbrowse-utils/encoding/twobit"
	"github.com/garrettjstevens/jbrowse-utils/jsonstore"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// run carries the state shared by the per-source export paths.
type run struct {
	opts      *Opts
	src       *Source
	chunkSize int // effective chunk size (quadrupled when compressing)
	manifest  *manifest
	refs      *nameFilter
}

// Prepare converts the configured sequence source into a JBrowse data
// directory under opts.Out.  Chunk files left behind by a failed run are
// simply overwritten on the next one; the manifest and track list are only
// ever written whole, after every sequence has been processed.
func Prepare(ctx context.Context, src Source, opts Opts) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}
	chunkSize := opts.ChunkSize
	if opts.Compress {
		chunkSize *= 4
	}
	store, err := jsonstore.New(opts.Out, opts.Compress)
	if err != nil {
		return err
	}
	r := &run{
		opts:      &opts,
		src:       &src,
		chunkSize: chunkSize,
		manifest:  newManifest(),
		refs:      newNameFilter(opts.Refs),
	}

	// sizes, GFF-sizes, and 2bit sources have no meaningful order of their
	// own, so they are always listed alphabetically.
	sorted := true
	switch {
	case len(src.Fastas) > 0:
		sorted = opts.Sort
		err = r.exportFastas(ctx, src.Fastas)
	case src.GFF != "":
		sorted = opts.Sort
		err = r.exportGFF(ctx)
	case src.IndexedFasta != "":
		sorted = opts.Sort
		err = r.exportIndexedFasta(ctx)
	case src.TwoBit != "":
		err = r.exportTwoBit(ctx)
	case len(src.Sizes) > 0:
		err = r.exportSizes(ctx)
	default:
		err = r.exportGFFSizes(ctx)
	}
	if err != nil {
		return err
	}
	r.refs.logMissing()
	if opts.Compress {
		if err := writeSeqHtaccess(opts.Out); err != nil {
			return err
		}
	}
	if err := r.manifest.write(store, sorted); err != nil {
		return err
	}
	return writeTrackEntry(store, &src, &opts, chunkSize)
}

// exportFastas streams each FASTA file into chunk files and manifest
// records.  Files are independent, so with sorting enabled they may be
// processed concurrently; order-preserving runs stay sequential so that the
// encounter order is well defined.
func (r *run) exportFastas(ctx context.Context, paths []string) error {
	parallelism := r.opts.Parallelism
	if parallelism < 1 || !r.opts.Sort {
		parallelism = 1
	}
	if parallelism > len(paths) {
		parallelism = len(paths)
	}
	if parallelism == 1 {
		for _, p := range paths {
			if err := r.exportFastaFile(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}
	return traverse.Each(parallelism, func(job int) error {
		for i := job; i < len(paths); i += parallelism {
			if err := r.exportFastaFile(ctx, paths[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *run) exportFastaFile(ctx context.Context, path string) error {
	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "opening FASTA", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	var reader io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(reader, in.Name()); u != nil {
		reader = u
	}
	return r.exportFastaStream(ctx, reader, path)
}

// exportFastaStream chunks every accepted sequence of one FASTA stream.
// Bases pass through a window buffer of chunk size, so memory use is
// independent of sequence length.
func (r *run) exportFastaStream(ctx context.Context, in io.Reader, label string) error {
	sc := fasta.NewScanner(in)
	window := make([]byte, r.chunkSize)
	for sc.Next() {
		name := sc.Name()
		if !r.refs.accept(name) {
			continue // Next discards the skipped sequence's bases.
		}
		var cw *chunkWriter
		if r.opts.Seq {
			cw = newChunkWriter(r.opts.Out, name, r.chunkSize, r.opts.Hash, r.opts.Compress)
		}
		var length int64
		for {
			n, err := sc.Read(window)
			if n > 0 {
				length += int64(n)
				if cw != nil {
					if err := cw.write(ctx, window[:n]); err != nil {
						return err
					}
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return errors.E(err, label)
			}
		}
		if cw != nil {
			if _, err := cw.flush(ctx); err != nil {
				return err
			}
		}
		r.manifest.add(RefSeq{
			Name:         name,
			End:          length,
			SeqChunkSize: r.chunkSize,
			Description:  sc.Description(),
		})
	}
	if err := sc.Err(); err != nil {
		return errors.E(err, label)
	}
	return nil
}

// exportGFF locates the embedded FASTA section of a GFF3 file, marked
// either by a ##FASTA directive or by the first bare '>' line, and exports
// it like any other FASTA stream.
func (r *run) exportGFF(ctx context.Context) error {
	path := r.src.GFF
	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "opening GFF", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	var reader io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(reader, in.Name()); u != nil {
		reader = u
	}
	br := bufio.NewReaderSize(reader, 64<<10)
	for {
		line, err := br.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if strings.EqualFold(trimmed, "##FASTA") {
			return r.exportFastaStream(ctx, br, path)
		}
		if strings.HasPrefix(trimmed, ">") {
			return r.exportFastaStream(ctx, io.MultiReader(strings.NewReader(line), br), path)
		}
		if err == io.EOF {
			log.Error.Printf("%s: no embedded FASTA section found", path)
			return nil
		}
		if err != nil {
			return errors.E(err, "reading GFF", path)
		}
	}
}

// exportIndexedFasta records sequence metadata from the .fai index and
// copies the FASTA plus its index into {out}/seq/, where the client reads
// them directly.  A missing index is generated from the FASTA.
func (r *run) exportIndexedFasta(ctx context.Context) error {
	fastaPath := r.src.IndexedFasta
	faiPath := fastaPath + ".fai"
	seqDir := filepath.Join(r.opts.Out, "seq")
	if err := os.MkdirAll(seqDir, 0755); err != nil {
		return errors.E(err, "creating", seqDir)
	}

	var raw []byte
	if _, err := os.Stat(faiPath); err != nil {
		if !os.IsNotExist(err) {
			return errors.E(err, "checking index", faiPath)
		}
		log.Printf("%s: not found, generating an index from %s", faiPath, fastaPath)
		in, err := file.Open(ctx, fastaPath)
		if err != nil {
			return errors.E(err, "opening FASTA", fastaPath)
		}
		var buf bytes.Buffer
		genErr := fasta.GenerateIndex(&buf, in.Reader(ctx))
		if cerr := in.Close(ctx); genErr == nil {
			genErr = cerr
		}
		if genErr != nil {
			return errors.E(genErr, "indexing", fastaPath)
		}
		raw = buf.Bytes()
	} else {
		if raw, err = readAll(ctx, faiPath); err != nil {
			return err
		}
	}
	entries, err := fasta.ParseIndex(bytes.NewReader(raw))
	if err != nil {
		return errors.E(err, faiPath)
	}
	if err := writeAll(ctx, filepath.Join(seqDir, filepath.Base(faiPath)), raw); err != nil {
		return err
	}
	if err := copyIntoSeq(ctx, r.opts.Out, fastaPath); err != nil {
		return err
	}
	for _, ent := range entries {
		if !r.refs.accept(ent.Name) {
			continue
		}
		r.manifest.add(RefSeq{
			Name:           ent.Name,
			End:            ent.Length,
			Offset:         ent.Offset,
			LineLength:     ent.LineBase,
			LineByteLength: ent.LineWidth,
		})
	}
	return nil
}

// exportTwoBit records sequence metadata from a 2bit file's table of
// contents and copies the file into {out}/seq/ for the client to read
// directly.
func (r *run) exportTwoBit(ctx context.Context) error {
	path := r.src.TwoBit
	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "opening 2bit", path)
	}
	seqs, readErr := twobit.Read(in.Reader(ctx))
	if cerr := in.Close(ctx); readErr == nil {
		readErr = cerr
	}
	if readErr != nil {
		return errors.E(readErr, path)
	}
	for _, sq := range seqs {
		if !r.refs.accept(sq.Name) {
			continue
		}
		r.manifest.add(RefSeq{
			Name:   sq.Name,
			End:    int64(sq.Length),
			Length: int64(sq.Length),
		})
	}
	return copyIntoSeq(ctx, r.opts.Out, path)
}

// exportSizes records sequences from two-column "name length" files.
func (r *run) exportSizes(ctx context.Context) error {
	for _, path := range r.src.Sizes {
		in, err := file.Open(ctx, path)
		if err != nil {
			return errors.E(err, "opening sizes file", path)
		}
		scanner := bufio.NewScanner(in.Reader(ctx))
		lineno := 0
		for scanner.Scan() {
			lineno++
			fields := strings.Fields(scanner.Text())
			if len(fields) == 0 {
				continue
			}
			if len(fields) != 2 {
				in.Close(ctx) // nolint: errcheck
				return errors.E(errors.Invalid,
					fmt.Sprintf("%s:%d: expected 'name length', got %q", path, lineno, scanner.Text()))
			}
			length, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				in.Close(ctx) // nolint: errcheck
				return errors.E(errors.Invalid,
					fmt.Sprintf("%s:%d: bad sequence length %q", path, lineno, fields[1]))
			}
			if !r.refs.accept(fields[0]) {
				continue
			}
			r.manifest.add(RefSeq{Name: fields[0], End: length, Length: length})
		}
		err = scanner.Err()
		if cerr := in.Close(ctx); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.E(err, path)
		}
	}
	return nil
}

// exportGFFSizes records sequences from ##sequence-region lines, which
// carry "name start end" with 1-based coordinates.
func (r *run) exportGFFSizes(ctx context.Context) error {
	for _, path := range r.src.GFFSizes {
		in, err := file.Open(ctx, path)
		if err != nil {
			return errors.E(err, "opening GFF", path)
		}
		scanner := bufio.NewScanner(in.Reader(ctx))
		lineno := 0
		for scanner.Scan() {
			lineno++
			line := scanner.Text()
			if !strings.HasPrefix(line, "##sequence-region") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) != 4 {
				in.Close(ctx) // nolint: errcheck
				return errors.E(errors.Invalid,
					fmt.Sprintf("%s:%d: expected '##sequence-region name start end', got %q", path, lineno, line))
			}
			start, serr := strconv.ParseInt(fields[2], 10, 64)
			end, eerr := strconv.ParseInt(fields[3], 10, 64)
			if serr != nil || eerr != nil {
				in.Close(ctx) // nolint: errcheck
				return errors.E(errors.Invalid,
					fmt.Sprintf("%s:%d: bad sequence-region coordinates %q", path, lineno, line))
			}
			if !r.refs.accept(fields[1]) {
				continue
			}
			r.manifest.add(RefSeq{Name: fields[1], Start: start - 1, End: end, Length: end})
		}
		err = scanner.Err()
		if cerr := in.Close(ctx); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.E(err, path)
		}
	}
	return nil
}

// nameFilter implements the -refs restriction.  Sequences outside the set
// are skipped; requested names that never appear are reported at the end of
// the run rather than failing it.
type nameFilter struct {
	mu   sync.Mutex
	want map[string]bool // nil accepts everything; true marks a name not yet seen
}

func newNameFilter(refs []string) *nameFilter {
	if len(refs) == 0 {
		return &nameFilter{}
	}
	want := make(map[string]bool, len(refs))
	for _, name := range refs {
		want[name] = true
	}
	return &nameFilter{want: want}
}

func (f *nameFilter) accept(name string) bool {
	if f.want == nil {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.want[name]; !ok {
		return false
	}
	f.want[name] = false
	return true
}

func (f *nameFilter) logMissing() {
	if f.want == nil {
		return
	}
	var missing []string
	for name, unseen := range f.want {
		if unseen {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	for _, name := range missing {
		log.Error.Printf("requested sequence %q was not found in the input", name)
	}
}

// copyIntoSeq copies an input file into {out}/seq/ unchanged.
func copyIntoSeq(ctx context.Context, out, path string) error {
	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "opening", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	dstPath := filepath.Join(out, "seq", filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return errors.E(err, "creating", filepath.Dir(dstPath))
	}
	dst, err := file.Create(ctx, dstPath)
	if err != nil {
		return errors.E(err, "creating", dstPath)
	}
	if _, err := io.Copy(dst.Writer(ctx), in.Reader(ctx)); err != nil {
		dst.Close(ctx) // nolint: errcheck
		return errors.E(err, "copying", path, "to", dstPath)
	}
	return dst.Close(ctx)
}

func readAll(ctx context.Context, path string) ([]byte, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "opening", path)
	}
	var buf bytes.Buffer
	_, cpErr := io.Copy(&buf, in.Reader(ctx))
	if cerr := in.Close(ctx); cpErr == nil {
		cpErr = cerr
	}
	if cpErr != nil {
		return nil, errors.E(cpErr, "reading", path)
	}
	return buf.Bytes(), nil
}

func writeAll(ctx context.Context, path string, data []byte) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "creating", path)
	}
	if _, err := out.Writer(ctx).Write(data); err != nil {
		out.Close(ctx) // nolint: errcheck
		return errors.E(err, "writing", path)
	}
	return out.Close(ctx)
}

// writeSeqHtaccess configures Apache to serve the compressed chunk files
// under {out}/seq/ with the correct Content-Encoding.
func writeSeqHtaccess(out string) error {
	seqDir := filepath.Join(out, "seq")
	if err := os.MkdirAll(seqDir, 0755); err != nil {
		return errors.E(err, "creating", seqDir)
	}
	path := filepath.Join(seqDir, ".htaccess")
	f, err := os.Create(path)
	if err != nil {
		return errors.E(err, "creating", path)
	}
	_, werr := f.WriteString(jsonstore.PrecompressionHtaccess(".txtz", ".jsonz"))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return errors.E(werr, "writing", path)
	}
	return nil
}
