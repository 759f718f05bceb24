package moderation

import (
	"bufio"
	"bytes"
	"embed"
	"io/fs"
	"path"
	"school-pickup/errors"
	"sort"
	"strings"
)

//go:embed censored/*
var censoredFolder embed.FS

// Blacklist is the result of loading every dictionary file.
type Blacklist struct {
	Words     []string
	Languages []string
}

// LoadEmbedded reads the dictionaries shipped with the binary.
func LoadEmbedded() (*Blacklist, error) {
	return Load(censoredFolder, "censored")
}

// Load reads every <lang>.txt file of dir, one word or expression per line.
func Load(fsys fs.FS, dir string) (*Blacklist, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var languages []string
	unique := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		// Scanner copes with both \n and \r\n
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				unique[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if len(unique) == 0 {
		return nil, errors.ErrEmptyWords
	}
	words := make([]string, 0, len(unique))
	for w := range unique {
		words = append(words, w)
	}
	sort.Strings(words)
	return &Blacklist{Words: words, Languages: languages}, nil
}
