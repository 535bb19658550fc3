package refseqs

import (
	"fmt"
	"hash/crc32"
	"path"
)

// ChunkPath returns the output-relative path of one sequence chunk.  The
// JBrowse client recomputes these paths on its own, so the function must
// stay bit-for-bit deterministic.
//
// With hashing enabled, chunks live under nested directories derived from
// the CRC32 of the sequence name (seq/02c/406/27/chr1-0.txt); this bounds
// the number of entries per directory for assemblies with very many
// contigs.  The flat layout is seq/chr1/0.txt.  Compressed chunks get a
// .txtz extension.
func ChunkPath(name string, chunk int, hashed, compress bool) string {
	var p string
	if hashed {
		h := hashDirs(name)
		p = path.Join("seq", h[0], h[1], h[2], fmt.Sprintf("%s-%d.txt", name, chunk))
	} else {
		p = path.Join("seq", name, fmt.Sprintf("%d.txt", chunk))
	}
	if compress {
		p += "z"
	}
	return p
}

// seqURLTemplate is the urlTemplate the client combines with a sequence
// name (and chunk number) to rebuild chunk paths.
func seqURLTemplate(hashed bool) string {
	if hashed {
		return "seq/{refseq_dirpath}/{refseq}-"
	}
	return "seq/{refseq}/"
}

// hashDirs splits the zero-padded 8-digit hex CRC32 (IEEE) of the sequence
// name into groups of 3, e.g. "6092e02d" becomes ["609", "2e0", "2d"].
// All chunks of one sequence share a directory.
func hashDirs(name string) [3]string {
	hex := fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(name)))
	return [3]string{hex[0:3], hex[3:6], hex[6:8]}
}
