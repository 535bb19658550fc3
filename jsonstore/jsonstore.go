// Package jsonstore manages the JSON files of a JBrowse data directory.
// Files are updated through a read-modify-write cycle so that repeated runs
// merge with the output of earlier runs, and every write lands in a
// temporary file that is renamed into place, so an interrupted run never
// leaves a truncated JSON file behind.
package jsonstore

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/grailbio/base/errors"
)

// Store is a directory of JSON files.
type Store struct {
	dir           string
	compress      bool
	wroteHtaccess bool
}

// New creates the directory if needed and returns a Store for it.  When
// compress is set, a .htaccess configuring Apache to serve pre-compressed
// .jsonz/.txtz files is dropped into the directory on first write.
func New(dir string, compress bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.E(err, "creating output directory", dir)
	}
	return &Store{dir: dir, compress: compress}, nil
}

// Dir returns the directory managed by the store.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute location of a file within the store.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// Modify rewrites the JSON file at name (a store-relative path).  The
// decoded contents, or nil if the file is absent or empty, are passed to
// edit; the returned value is marshaled back.  The write is atomic.
func (s *Store) Modify(name string, edit func(data interface{}) (interface{}, error)) error {
	if err := s.writeHtaccess(); err != nil {
		return err
	}
	full := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errors.E(err, "creating directory for", full)
	}
	var data interface{}
	if raw, err := ioutil.ReadFile(full); err == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return errors.E(err, "parsing existing JSON", full)
		}
	} else if err != nil && !os.IsNotExist(err) {
		return errors.E(err, "reading", full)
	}
	data, err := edit(data)
	if err != nil {
		return err
	}
	out, err := json.Marshal(data)
	if err != nil {
		return errors.E(err, "encoding", full)
	}
	return writeFileAtomic(full, out)
}

// Touch creates an empty file at name if it does not already exist.
func (s *Store) Touch(name string) error {
	full := s.Path(name)
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.E(err, "touching", full)
	}
	return f.Close()
}

// writeFileAtomic writes contents to a temporary file in path's directory
// and renames it into place.
func writeFileAtomic(path string, contents []byte) error {
	dir, base := filepath.Split(path)
	tmp, err := ioutil.TempFile(dir, "."+base+".tmp")
	if err != nil {
		return errors.E(err, "creating temporary file for", path)
	}
	if _, err := tmp.Write(contents); err != nil {
		tmp.Close() // nolint: errcheck
		os.Remove(tmp.Name())
		return errors.E(err, "writing", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.E(err, "closing", tmp.Name())
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.E(err, "renaming into place", path)
	}
	return nil
}

// writeHtaccess drops an Apache override into the store directory so that
// pre-compressed files are served with the right Content-Encoding.  Written
// at most once per run, and only in compressed mode.
func (s *Store) writeHtaccess() error {
	if !s.compress || s.wroteHtaccess {
		return nil
	}
	path := filepath.Join(s.dir, ".htaccess")
	if err := ioutil.WriteFile(path, []byte(PrecompressionHtaccess(".jsonz", ".txtz", ".txt.gz")), 0644); err != nil {
		return errors.E(err, "writing", path)
	}
	s.wroteHtaccess = true
	return nil
}

// PrecompressionHtaccess returns an Apache .htaccess stanza that serves
// files with the given extensions as gzip-encoded content.
func PrecompressionHtaccess(exts ...string) string {
	match := ""
	for i, ext := range exts {
		if i > 0 {
			match += "|"
		}
		for _, c := range ext {
			if c == '.' {
				match += `\.`
			} else {
				match += string(c)
			}
		}
	}
	return fmt.Sprintf(`# This file configures Apache to serve the pre-compressed files in this
# directory with the correct Content-Encoding.  It requires mod_headers,
# mod_setenvif, and AllowOverride FileInfo.
<IfModule mod_gzip.c>
    mod_gzip_item_exclude "(%[1]s)$"
</IfModule>
<IfModule setenvif.c>
    SetEnvIf Request_URI "(%[1]s)$" no-gzip dont-vary
</IfModule>
<IfModule mod_headers.c>
  <FilesMatch "(%[1]s)$">
    Header onsuccess set Content-Encoding gzip
  </FilesMatch>
</IfModule>
`, match)
}
