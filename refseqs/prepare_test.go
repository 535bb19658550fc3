package refseqs

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func writeTestFile(t *testing.T, path, contents string) {
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644))
}

func testOpts(out string) Opts {
	opts := DefaultOpts
	opts.Out = out
	return opts
}

func manifestEntries(t *testing.T, dir string) []map[string]interface{} {
	raw, err := ioutil.ReadFile(filepath.Join(dir, "seq", "refSeqs.json"))
	assert.NoError(t, err)
	var entries []map[string]interface{}
	assert.NoError(t, json.Unmarshal(raw, &entries))
	return entries
}

func trackEntry(t *testing.T, dir string) map[string]interface{} {
	raw, err := ioutil.ReadFile(filepath.Join(dir, "trackList.json"))
	assert.NoError(t, err)
	var root map[string]interface{}
	assert.NoError(t, json.Unmarshal(raw, &root))
	expect.EQ(t, root["formatVersion"], float64(1))
	tracks := root["tracks"].([]interface{})
	assert.EQ(t, len(tracks), 1)
	return tracks[0].(map[string]interface{})
}

// repeatBases returns a deterministic base string of the given length.
func repeatBases(n int) string {
	return strings.Repeat("ACGTACGTAG", (n+9)/10)[:n]
}

func TestPrepareFasta(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	in := filepath.Join(tmpDir, "in.fa")
	out := filepath.Join(tmpDir, "data")
	// chr2 first to exercise sorting.
	writeTestFile(t, in, ">chr2\n"+repeatBases(5000)+"\n>chr1 the big one\n"+repeatBases(25000)+"\n")

	src := Source{Fastas: []string{in}}
	assert.NoError(t, Prepare(context.Background(), src, testOpts(out)))

	entries := manifestEntries(t, out)
	assert.EQ(t, len(entries), 2)
	expect.EQ(t, entries[0]["name"], "chr1")
	expect.EQ(t, entries[0]["start"], float64(0))
	expect.EQ(t, entries[0]["end"], float64(25000))
	expect.EQ(t, entries[0]["seqChunkSize"], float64(20000))
	expect.EQ(t, entries[0]["description"], "the big one")
	expect.EQ(t, entries[1]["name"], "chr2")
	expect.EQ(t, entries[1]["end"], float64(5000))

	// chr1 yields chunks of 20,000 and 5,000 bases; chr2 a single one.
	expect.EQ(t, len(readChunk(t, out, "chr1", 0, true, false)), 20000)
	expect.EQ(t, len(readChunk(t, out, "chr1", 1, true, false)), 5000)
	expect.EQ(t, len(readChunk(t, out, "chr2", 0, true, false)), 5000)
	all := append(readChunk(t, out, "chr1", 0, true, false), readChunk(t, out, "chr1", 1, true, false)...)
	expect.EQ(t, string(all), repeatBases(25000))

	track := trackEntry(t, out)
	expect.EQ(t, track["label"], "DNA")
	expect.EQ(t, track["key"], "Reference sequence")
	expect.EQ(t, track["type"], "SequenceTrack")
	expect.EQ(t, track["storeClass"], "JBrowse/Store/Sequence/StaticChunked")
	expect.EQ(t, track["chunkSize"], float64(20000))
	expect.EQ(t, track["urlTemplate"], "seq/{refseq_dirpath}/{refseq}-")
	expect.EQ(t, track["seqType"], "dna")

	if _, err := os.Stat(filepath.Join(out, "tracks.conf")); err != nil {
		t.Errorf("tracks.conf missing: %v", err)
	}
}

func TestPrepareFastaNoSort(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	in := filepath.Join(tmpDir, "in.fa")
	out := filepath.Join(tmpDir, "data")
	writeTestFile(t, in, ">chr2\nACGT\n>chr1\nTTTT\n")

	opts := testOpts(out)
	opts.Sort = false
	assert.NoError(t, Prepare(context.Background(), Source{Fastas: []string{in}}, opts))
	expect.EQ(t, manifestNames(t, out), []string{"chr2", "chr1"})
}

func TestPrepareFastaMultipleFiles(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	a := filepath.Join(tmpDir, "a.fa")
	b := filepath.Join(tmpDir, "b.fa")
	out := filepath.Join(tmpDir, "data")
	writeTestFile(t, a, ">ctgB\nAAAA\n")
	writeTestFile(t, b, ">ctgA\nCCCC\n")

	opts := testOpts(out)
	opts.Parallelism = 2
	assert.NoError(t, Prepare(context.Background(), Source{Fastas: []string{a, b}}, opts))
	expect.EQ(t, manifestNames(t, out), []string{"ctgA", "ctgB"})
	expect.EQ(t, string(readChunk(t, out, "ctgA", 0, true, false)), "CCCC")
	expect.EQ(t, string(readChunk(t, out, "ctgB", 0, true, false)), "AAAA")
}

func TestPrepareRefsFilter(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	in := filepath.Join(tmpDir, "in.fa")
	out := filepath.Join(tmpDir, "data")
	writeTestFile(t, in, ">chr1\nAAAA\n>chr2\nCCCC\n>chr3\nTTTT\n")

	opts := testOpts(out)
	opts.Refs = []string{"chr2", "chrMissing"} // the missing name is logged, not fatal
	assert.NoError(t, Prepare(context.Background(), Source{Fastas: []string{in}}, opts))
	expect.EQ(t, manifestNames(t, out), []string{"chr2"})

	// Skipped sequences leave no chunks behind.
	if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(ChunkPath("chr1", 0, true, false)))); !os.IsNotExist(err) {
		t.Errorf("chr1 chunk written despite -refs filter")
	}
	expect.EQ(t, string(readChunk(t, out, "chr2", 0, true, false)), "CCCC")
}

func TestPrepareZeroLengthSequence(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	in := filepath.Join(tmpDir, "in.fa")
	out := filepath.Join(tmpDir, "data")
	writeTestFile(t, in, ">empty\n>chr1\nACGT\n")

	assert.NoError(t, Prepare(context.Background(), Source{Fastas: []string{in}}, testOpts(out)))
	entries := manifestEntries(t, out)
	assert.EQ(t, len(entries), 2)
	expect.EQ(t, entries[1]["name"], "empty")
	expect.EQ(t, entries[1]["end"], float64(0))
	rec := RefSeq{End: 0, SeqChunkSize: 20000}
	expect.EQ(t, rec.ChunkCount(), 0)
	if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(ChunkPath("empty", 0, true, false)))); !os.IsNotExist(err) {
		t.Errorf("zero-length sequence must produce no chunks")
	}
}

func TestPrepareNoSeq(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	in := filepath.Join(tmpDir, "in.fa")
	out := filepath.Join(tmpDir, "data")
	writeTestFile(t, in, ">chr1\n"+repeatBases(25000)+"\n")

	opts := testOpts(out)
	opts.Seq = false
	assert.NoError(t, Prepare(context.Background(), Source{Fastas: []string{in}}, opts))

	entries := manifestEntries(t, out)
	assert.EQ(t, len(entries), 1)
	expect.EQ(t, entries[0]["end"], float64(25000))
	if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(ChunkPath("chr1", 0, true, false)))); !os.IsNotExist(err) {
		t.Errorf("-noseq must not write chunks")
	}
	// Without stored bases there is nothing for a sequence track to show.
	if _, err := os.Stat(filepath.Join(out, "trackList.json")); !os.IsNotExist(err) {
		t.Errorf("-noseq must not write a track entry")
	}
}

func TestPrepareCompress(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	in := filepath.Join(tmpDir, "in.fa")
	out := filepath.Join(tmpDir, "data")
	writeTestFile(t, in, ">chr1\n"+repeatBases(10000)+"\n")

	opts := testOpts(out)
	opts.Compress = true
	opts.ChunkSize = 2000 // quadrupled to 8000 under compression
	assert.NoError(t, Prepare(context.Background(), Source{Fastas: []string{in}}, opts))

	entries := manifestEntries(t, out)
	expect.EQ(t, entries[0]["seqChunkSize"], float64(8000))
	expect.EQ(t, len(readChunk(t, out, "chr1", 0, true, true)), 8000)
	expect.EQ(t, len(readChunk(t, out, "chr1", 1, true, true)), 2000)

	track := trackEntry(t, out)
	expect.EQ(t, track["compress"], float64(1))
	expect.EQ(t, track["chunkSize"], float64(8000))

	for _, name := range []string{".htaccess", filepath.Join("seq", ".htaccess")} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
}

func TestPrepareFlatLayout(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	in := filepath.Join(tmpDir, "in.fa")
	out := filepath.Join(tmpDir, "data")
	writeTestFile(t, in, ">chr1\nACGT\n")

	opts := testOpts(out)
	opts.Hash = false
	assert.NoError(t, Prepare(context.Background(), Source{Fastas: []string{in}}, opts))
	raw, err := ioutil.ReadFile(filepath.Join(out, "seq", "chr1", "0.txt"))
	assert.NoError(t, err)
	expect.EQ(t, string(raw), "ACGT")
	expect.EQ(t, trackEntry(t, out)["urlTemplate"], "seq/{refseq}/")
}

func TestPrepareMutuallyExclusiveSources(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	out := filepath.Join(tmpDir, "data")
	src := Source{Fastas: []string{"a.fa"}, TwoBit: "a.2bit"}
	err := Prepare(context.Background(), src, testOpts(out))
	expect.True(t, errors.Is(errors.Invalid, err))
	// The config check fires before any I/O.
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Errorf("output directory created despite config error")
	}

	err = Prepare(context.Background(), Source{}, testOpts(out))
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestPrepareBadChunkSize(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	opts := testOpts(filepath.Join(tmpDir, "data"))
	opts.ChunkSize = 0
	err := Prepare(context.Background(), Source{Fastas: []string{"a.fa"}}, opts)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestPrepareGFF(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	out := filepath.Join(tmpDir, "data")
	gff := filepath.Join(tmpDir, "in.gff3")
	writeTestFile(t, gff, "##gff-version 3\n"+
		"ctgA\texample\tgene\t1\t100\t.\t+\t.\tID=gene1\n"+
		"##FASTA\n"+
		">ctgA\nACGTACGT\n>ctgB\nTTTT\n")

	assert.NoError(t, Prepare(context.Background(), Source{GFF: gff}, testOpts(out)))
	expect.EQ(t, manifestNames(t, out), []string{"ctgA", "ctgB"})
	expect.EQ(t, string(readChunk(t, out, "ctgA", 0, true, false)), "ACGTACGT")
}

func TestPrepareGFFImplicitFasta(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	out := filepath.Join(tmpDir, "data")
	gff := filepath.Join(tmpDir, "in.gff3")
	// No ##FASTA directive; the sequence block starts at the first '>'.
	writeTestFile(t, gff, "##gff-version 3\n"+
		"ctgA\texample\tgene\t1\t100\t.\t+\t.\tID=gene1\n"+
		">ctgA\nACGTACGT\n")

	assert.NoError(t, Prepare(context.Background(), Source{GFF: gff}, testOpts(out)))
	expect.EQ(t, manifestNames(t, out), []string{"ctgA"})
	expect.EQ(t, string(readChunk(t, out, "ctgA", 0, true, false)), "ACGTACGT")
}

func TestPrepareSizes(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	out := filepath.Join(tmpDir, "data")
	sizes := filepath.Join(tmpDir, "a.sizes")
	writeTestFile(t, sizes, "chr2 5000\n\nchr1 25000\n")

	opts := testOpts(out)
	opts.Sort = false // sizes files have no meaningful order; still sorted
	assert.NoError(t, Prepare(context.Background(), Source{Sizes: []string{sizes}}, opts))
	entries := manifestEntries(t, out)
	assert.EQ(t, len(entries), 2)
	expect.EQ(t, entries[0]["name"], "chr1")
	expect.EQ(t, entries[0]["length"], float64(25000))
	expect.EQ(t, entries[0]["end"], float64(25000))
	expect.EQ(t, entries[1]["name"], "chr2")
}

func TestPrepareSizesMalformed(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	sizes := filepath.Join(tmpDir, "a.sizes")
	writeTestFile(t, sizes, "chr1 123 extra\n")
	err := Prepare(context.Background(), Source{Sizes: []string{sizes}}, testOpts(filepath.Join(tmpDir, "data")))
	expect.True(t, errors.Is(errors.Invalid, err))
	expect.HasSubstr(t, err.Error(), "a.sizes:1")
}

func TestPrepareGFFSizes(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	out := filepath.Join(tmpDir, "data")
	gff := filepath.Join(tmpDir, "sizes.gff3")
	writeTestFile(t, gff, "##gff-version 3\n"+
		"##sequence-region ctgA 1 50001\n"+
		"##sequence-region ctgB 1 6079\n")

	assert.NoError(t, Prepare(context.Background(), Source{GFFSizes: []string{gff}}, testOpts(out)))
	entries := manifestEntries(t, out)
	assert.EQ(t, len(entries), 2)
	expect.EQ(t, entries[0]["name"], "ctgA")
	expect.EQ(t, entries[0]["start"], float64(0)) // 1-based start converted
	expect.EQ(t, entries[0]["end"], float64(50001))
	expect.EQ(t, entries[0]["length"], float64(50001))
}

func makeTestTwoBit(seqNames []string, lengths []uint32) []byte {
	tocSize := 0
	for _, name := range seqNames {
		tocSize += 1 + len(name) + 4
	}
	var buf bytes.Buffer
	write := func(v uint32) {
		var raw [4]byte
		binary.LittleEndian.PutUint32(raw[:], v)
		buf.Write(raw[:])
	}
	write(0x1A412743)
	write(0)
	write(uint32(len(seqNames)))
	write(0)
	offset := uint32(16 + tocSize)
	for _, name := range seqNames {
		buf.WriteByte(byte(len(name)))
		buf.WriteString(name)
		write(offset)
		offset += 4
	}
	for _, length := range lengths {
		write(length)
	}
	return buf.Bytes()
}

func TestPrepareTwoBit(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	out := filepath.Join(tmpDir, "data")
	twoBitPath := filepath.Join(tmpDir, "a.2bit")
	assert.NoError(t, ioutil.WriteFile(twoBitPath, makeTestTwoBit([]string{"chr2", "chr1"}, []uint32{5000, 25000}), 0644))

	assert.NoError(t, Prepare(context.Background(), Source{TwoBit: twoBitPath}, testOpts(out)))
	entries := manifestEntries(t, out)
	assert.EQ(t, len(entries), 2)
	expect.EQ(t, entries[0]["name"], "chr1")
	expect.EQ(t, entries[0]["length"], float64(25000))

	// The 2bit file itself is copied for the client to read directly.
	copied, err := ioutil.ReadFile(filepath.Join(out, "seq", "a.2bit"))
	assert.NoError(t, err)
	expect.True(t, len(copied) > 0)

	track := trackEntry(t, out)
	expect.EQ(t, track["storeClass"], "JBrowse/Store/Sequence/TwoBit")
	expect.EQ(t, track["urlTemplate"], "seq/a.2bit")
	expect.EQ(t, track["useAsRefSeqStore"], float64(1))
	if _, ok := track["chunkSize"]; ok {
		t.Errorf("2bit track entry must not carry a chunkSize")
	}
}

func TestPrepareIndexedFasta(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	out := filepath.Join(tmpDir, "data")
	fa := filepath.Join(tmpDir, "a.fa")
	writeTestFile(t, fa, ">seq1\nACGTA\nCGTAC\nGT\n>seq2\nACGT\nACGT\n")
	writeTestFile(t, fa+".fai", "seq1\t12\t6\t5\t6\nseq2\t8\t27\t4\t5\n")

	assert.NoError(t, Prepare(context.Background(), Source{IndexedFasta: fa}, testOpts(out)))
	entries := manifestEntries(t, out)
	assert.EQ(t, len(entries), 2)
	expect.EQ(t, entries[0]["name"], "seq1")
	expect.EQ(t, entries[0]["end"], float64(12))
	expect.EQ(t, entries[0]["offset"], float64(6))
	expect.EQ(t, entries[0]["line_length"], float64(5))
	expect.EQ(t, entries[0]["line_byte_length"], float64(6))

	for _, name := range []string{"a.fa", "a.fa.fai"} {
		if _, err := os.Stat(filepath.Join(out, "seq", name)); err != nil {
			t.Errorf("%s not copied: %v", name, err)
		}
	}

	track := trackEntry(t, out)
	expect.EQ(t, track["storeClass"], "JBrowse/Store/Sequence/IndexedFasta")
	expect.EQ(t, track["urlTemplate"], "seq/a.fa")
	expect.EQ(t, track["faiUrlTemplate"], "seq/a.fa.fai")
	expect.EQ(t, track["useAsRefSeqStore"], float64(1))
}

func TestPrepareIndexedFastaGeneratesMissingIndex(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	out := filepath.Join(tmpDir, "data")
	fa := filepath.Join(tmpDir, "a.fa")
	writeTestFile(t, fa, ">seq1\nACGTA\nCGTAC\nGT\n>seq2\nACGT\nACGT\n")

	assert.NoError(t, Prepare(context.Background(), Source{IndexedFasta: fa}, testOpts(out)))
	entries := manifestEntries(t, out)
	assert.EQ(t, len(entries), 2)
	expect.EQ(t, entries[0]["name"], "seq1")
	expect.EQ(t, entries[0]["end"], float64(12))
	if _, err := os.Stat(filepath.Join(out, "seq", "a.fa.fai")); err != nil {
		t.Errorf("generated index not written: %v", err)
	}
}

func TestPrepareTrackConfigMerge(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	in := filepath.Join(tmpDir, "in.fa")
	out := filepath.Join(tmpDir, "data")
	writeTestFile(t, in, ">chr1\nACGT\n")

	opts := testOpts(out)
	opts.TrackConfig = map[string]interface{}{
		"glyph": "ProcessedTranscript",
		"key":   "My reference", // user keys win over generated ones
	}
	assert.NoError(t, Prepare(context.Background(), Source{Fastas: []string{in}}, opts))
	track := trackEntry(t, out)
	expect.EQ(t, track["glyph"], "ProcessedTranscript")
	expect.EQ(t, track["key"], "My reference")
	expect.EQ(t, track["label"], "DNA")
}

func TestPrepareProteinTrack(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	in := filepath.Join(tmpDir, "in.fa")
	out := filepath.Join(tmpDir, "data")
	writeTestFile(t, in, ">p1\nMKV\n")

	opts := testOpts(out)
	opts.SeqType = "protein"
	assert.NoError(t, Prepare(context.Background(), Source{Fastas: []string{in}}, opts))
	track := trackEntry(t, out)
	expect.EQ(t, track["label"], "protein")
	expect.EQ(t, track["seqType"], "protein")
	expect.EQ(t, track["showReverseStrand"], float64(0))
	expect.EQ(t, track["showTranslation"], float64(0))
}

func TestPrepareReplacesTrackWithSameLabel(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "prepare")
	defer cleanup()
	in := filepath.Join(tmpDir, "in.fa")
	out := filepath.Join(tmpDir, "data")
	writeTestFile(t, in, ">chr1\nACGT\n")
	writeTestFile(t, filepath.Join(out, "trackList.json"),
		`{"formatVersion":1,"tracks":[{"label":"genes","type":"FeatureTrack"},{"label":"DNA","key":"stale"}]}`)

	assert.NoError(t, Prepare(context.Background(), Source{Fastas: []string{in}}, testOpts(out)))
	raw, err := ioutil.ReadFile(filepath.Join(out, "trackList.json"))
	assert.NoError(t, err)
	var root map[string]interface{}
	assert.NoError(t, json.Unmarshal(raw, &root))
	tracks := root["tracks"].([]interface{})
	assert.EQ(t, len(tracks), 2)
	expect.EQ(t, tracks[0].(map[string]interface{})["label"], "genes")
	refreshed := tracks[1].(map[string]interface{})
	expect.EQ(t, refreshed["label"], "DNA")
	expect.EQ(t, refreshed["key"], "Reference sequence")
}

func TestTrackLabelDefaults(t *testing.T) {
	expect.EQ(t, trackLabel(&Opts{SeqType: "dna"}), "DNA")
	expect.EQ(t, trackLabel(&Opts{SeqType: "RNA"}), "RNA")
	expect.EQ(t, trackLabel(&Opts{SeqType: "Protein"}), "protein")
	expect.EQ(t, trackLabel(&Opts{SeqType: "dna", TrackLabel: "custom"}), "custom")
}
