package refseqs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
)

// chunkWriter splits one sequence's bases into fixed-size chunk files as
// they stream in.  Every full chunkSize bases become one file; Flush writes
// whatever is left as a final, shorter chunk.  A zero-length sequence
// produces no files.
type chunkWriter struct {
	out       string // data directory root
	name      string // sequence name
	chunkSize int
	hashed    bool
	compress  bool

	buf  []byte
	next int // index of the next chunk to write
}

func newChunkWriter(out, name string, chunkSize int, hashed, compress bool) *chunkWriter {
	return &chunkWriter{out: out, name: name, chunkSize: chunkSize, hashed: hashed, compress: compress}
}

// write buffers bases and writes out every completed chunk.
func (w *chunkWriter) write(ctx context.Context, bases []byte) error {
	w.buf = append(w.buf, bases...)
	for len(w.buf) >= w.chunkSize {
		if err := w.writeChunk(ctx, w.buf[:w.chunkSize]); err != nil {
			return err
		}
		n := copy(w.buf, w.buf[w.chunkSize:])
		w.buf = w.buf[:n]
	}
	return nil
}

// flush writes the final short chunk, if any, and returns the total number
// of chunks written for the sequence.
func (w *chunkWriter) flush(ctx context.Context) (int, error) {
	if len(w.buf) > 0 {
		if err := w.writeChunk(ctx, w.buf); err != nil {
			return w.next, err
		}
		w.buf = w.buf[:0]
	}
	return w.next, nil
}

func (w *chunkWriter) writeChunk(ctx context.Context, bases []byte) error {
	rel := ChunkPath(w.name, w.next, w.hashed, w.compress)
	full := filepath.Join(w.out, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errors.E(err, "creating chunk directory for", full)
	}
	out, err := file.Create(ctx, full)
	if err != nil {
		return errors.E(err, "creating chunk file", full)
	}
	if w.compress {
		gz := gzip.NewWriter(out.Writer(ctx))
		if _, err := gz.Write(bases); err != nil {
			out.Close(ctx) // nolint: errcheck
			return errors.E(err, "writing chunk", full)
		}
		if err := gz.Close(); err != nil {
			out.Close(ctx) // nolint: errcheck
			return errors.E(err, "writing chunk", full)
		}
	} else if _, err := out.Writer(ctx).Write(bases); err != nil {
		out.Close(ctx) // nolint: errcheck
		return errors.E(err, "writing chunk", full)
	}
	if err := out.Close(ctx); err != nil {
		return errors.E(err, "closing chunk", full)
	}
	w.next++
	return nil
}
