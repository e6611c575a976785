package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// repoList is the repository list format: {"repos": [{"remote": url}]}.
type repoList struct {
	Documentation string      `json:"documentation,omitempty" yaml:"documentation,omitempty"`
	Repos         []repoEntry `json:"repos" yaml:"repos"`
}

type repoEntry struct {
	Remote string `json:"remote" yaml:"remote"`
}

// LoadRepoList reads remote URLs from a JSON or YAML (.yaml/.yml) file.
// Duplicates and blank entries are dropped.
func LoadRepoList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read repos file: %w", err)
	}

	var list repoList
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &list)
	default:
		err = json.Unmarshal(data, &list)
	}
	if err != nil {
		return nil, fmt.Errorf("parse repos file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(list.Repos))
	var urls []string
	for _, r := range list.Repos {
		u := strings.TrimSpace(r.Remote)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls, nil
}
