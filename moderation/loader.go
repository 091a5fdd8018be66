package moderation

import (
	"bufio"
	"bytes"
	"dm-relay/errors"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed censored/*.txt
var dictionaries embed.FS

// Dictionary is the merged word list of every language file.
type Dictionary struct {
	Words     []string
	Languages []string
}

// Loader reads one word per line from every .txt file of a directory.
type Loader struct {
	fs fs.FS
}

// NewLoader reads from the given filesystem, the embedded dictionaries when nil.
func NewLoader(fsys fs.FS) *Loader {
	if fsys == nil {
		fsys = dictionaries
	}
	return &Loader{fs: fsys}
}

// LoadAll parses every "<lang>.txt" file of dir into a deduplicated word list.
func (l *Loader) LoadAll(dir string) (Dictionary, error) {
	entries, err := fs.ReadDir(l.fs, dir)
	if err != nil {
		return Dictionary{}, err
	}

	var languages []string
	unique := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".txt" {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := fs.ReadFile(l.fs, path.Join(dir, entry.Name()))
		if err != nil {
			return Dictionary{}, err
		}
		// Scanner copes with both \n and \r\n
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				unique[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return Dictionary{}, err
		}
	}

	if len(unique) == 0 {
		return Dictionary{}, errors.ErrEmptyWords
	}
	words := make([]string, 0, len(unique))
	for w := range unique {
		words = append(words, w)
	}
	sort.Strings(words)
	return Dictionary{Words: words, Languages: languages}, nil
}
