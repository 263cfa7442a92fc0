package gateway

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rosterFile is the on-disk roster snapshot format:
//
//	guild: "1234"
//	members:
//	  - id: "A"
//	    name: "Alice"
type rosterFile struct {
	Guild   string         `yaml:"guild"`
	Members []RosterMember `yaml:"members"`
}

// LoadRoster reads a roster snapshot from a YAML file.
// Unknown fields are rejected to catch typos.
func LoadRoster(path string) (guild string, members []RosterMember, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read roster %s: %w", path, err)
	}

	var f rosterFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return "", nil, fmt.Errorf("failed to parse roster %s: %w", path, err)
	}

	seen := map[string]bool{}
	for i, m := range f.Members {
		if m.ID == "" {
			return "", nil, fmt.Errorf("roster %s: member %d has no id", path, i)
		}
		if seen[string(m.ID)] {
			return "", nil, fmt.Errorf("roster %s: duplicate member %s", path, m.ID)
		}
		seen[string(m.ID)] = true
	}
	return f.Guild, f.Members, nil
}
