package refseqs

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/garrettjstevens/jbrowse-utils/jsonstore"
)

// trackLabel returns the configured track label, or derives one from the
// sequence type: "dna" and "rna" are upper-cased ("DNA"), anything else is
// lower-cased.
func trackLabel(opts *Opts) string {
	if opts.TrackLabel != "" {
		return opts.TrackLabel
	}
	switch t := strings.ToLower(opts.SeqType); t {
	case "dna", "rna":
		return strings.ToUpper(t)
	default:
		return t
	}
}

// writeTrackEntry records the reference sequence track in trackList.json
// and touches tracks.conf.  chunkSize is the effective (possibly
// quadrupled) chunk size the chunks were written with.  Indexed FASTA and
// 2bit sources are served as whole files the client reads itself, so their
// entries point at the copied input instead of chunk URLs.
func writeTrackEntry(store *jsonstore.Store, src *Source, opts *Opts, chunkSize int) error {
	if !opts.Seq {
		return nil
	}
	label := trackLabel(opts)
	if err := store.Touch("tracks.conf"); err != nil {
		return err
	}

	seqType := strings.ToLower(opts.SeqType)
	track := map[string]interface{}{
		"label":       label,
		"key":         opts.Key,
		"type":        "SequenceTrack",
		"category":    "Reference sequence",
		"storeClass":  "JBrowse/Store/Sequence/StaticChunked",
		"chunkSize":   chunkSize,
		"urlTemplate": seqURLTemplate(opts.Hash),
		"seqType":     seqType,
	}
	if opts.Compress {
		track["compress"] = 1
	}
	if seqType != "dna" {
		track["showReverseStrand"] = 0
	}
	if seqType == "protein" {
		track["showTranslation"] = 0
	}
	for k, v := range opts.TrackConfig {
		track[k] = v
	}
	switch {
	case src.IndexedFasta != "":
		tmpl := path.Join("seq", filepath.Base(src.IndexedFasta))
		delete(track, "chunkSize")
		track["storeClass"] = "JBrowse/Store/Sequence/IndexedFasta"
		track["urlTemplate"] = tmpl
		track["faiUrlTemplate"] = tmpl + ".fai"
		track["useAsRefSeqStore"] = 1
	case src.TwoBit != "":
		tmpl := path.Join("seq", filepath.Base(src.TwoBit))
		delete(track, "chunkSize")
		track["storeClass"] = "JBrowse/Store/Sequence/TwoBit"
		track["urlTemplate"] = tmpl
		track["useAsRefSeqStore"] = 1
	}

	return store.Modify("trackList.json", func(data interface{}) (interface{}, error) {
		root, ok := data.(map[string]interface{})
		if !ok || root == nil {
			return map[string]interface{}{
				"formatVersion": 1,
				"tracks":        []interface{}{track},
			}, nil
		}
		tracks, _ := root["tracks"].([]interface{})
		for i, tr := range tracks {
			if obj, ok := tr.(map[string]interface{}); ok && obj["label"] == label {
				tracks[i] = track
				root["tracks"] = tracks
				return root, nil
			}
		}
		root["tracks"] = append(tracks, track)
		return root, nil
	})
}
