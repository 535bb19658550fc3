package refseqs

import (
	"sort"
	"sync"

	"github.com/garrettjstevens/jbrowse-utils/jsonstore"
)

// RefSeq is one entry of the seq/refSeqs.json manifest.  Start and End are
// a 0-based half-open interval, so End doubles as the sequence length for
// everything chunked from actual bases; metadata-only sources also fill in
// Length.  The index fields are set only for indexed FASTA input, where the
// client reads the copied FASTA directly.
type RefSeq struct {
	Name           string `json:"name"`
	Start          int64  `json:"start"`
	End            int64  `json:"end"`
	Length         int64  `json:"length,omitempty"`
	SeqChunkSize   int    `json:"seqChunkSize,omitempty"`
	Description    string `json:"description,omitempty"`
	Offset         int64  `json:"offset,omitempty"`
	LineLength     int64  `json:"line_length,omitempty"`
	LineByteLength int64  `json:"line_byte_length,omitempty"`
}

// ChunkCount returns the number of chunk files the sequence occupies:
// ceil(length / chunk size), 0 for an empty sequence.
func (r RefSeq) ChunkCount() int {
	if r.SeqChunkSize <= 0 {
		return 0
	}
	return int((r.End - r.Start + int64(r.SeqChunkSize) - 1) / int64(r.SeqChunkSize))
}

// manifest accumulates RefSeq records.  Workers for distinct input files
// append concurrently; the records are written out once, after all of them
// finish.
type manifest struct {
	mu    sync.Mutex
	seqs  map[string]RefSeq
	order []string // encounter order
}

func newManifest() *manifest {
	return &manifest{seqs: make(map[string]RefSeq)}
}

func (m *manifest) add(r RefSeq) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seqs[r.Name]; !ok {
		m.order = append(m.order, r.Name)
	}
	m.seqs[r.Name] = r
}

func (m *manifest) names(sorted bool) []string {
	names := append([]string(nil), m.order...)
	if sorted {
		sort.Strings(names)
	}
	return names
}

// write records the accumulated sequences in seq/refSeqs.json.  Entries
// from earlier runs are kept unless this run produced a sequence with the
// same name, so a data directory can be assembled incrementally.
func (m *manifest) write(store *jsonstore.Store, sorted bool) error {
	return store.Modify("seq/refSeqs.json", func(data interface{}) (interface{}, error) {
		out := []interface{}{}
		if existing, ok := data.([]interface{}); ok {
			for _, e := range existing {
				if obj, ok := e.(map[string]interface{}); ok {
					if name, _ := obj["name"].(string); name != "" {
						if _, replaced := m.seqs[name]; replaced {
							continue
						}
					}
				}
				out = append(out, e)
			}
		}
		for _, name := range m.names(sorted) {
			out = append(out, m.seqs[name])
		}
		return out, nil
	})
}
