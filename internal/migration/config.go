package migration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a reusable per-run options file, so recurring migrations
// don't need their flag set repeated on every invocation. Flags given on
// the command line win over profile values.
type Profile struct {
	Tables       []string `yaml:"tables"`
	CustomTables []string `yaml:"custom_tables"`
	UIDFields    []string `yaml:"uid_fields"`

	UserSuffix     string `yaml:"user_suffix"`
	UserSuffixTrim string `yaml:"user_suffix_trim"`

	Plugins bool `yaml:"plugins"`
	Themes  bool `yaml:"themes"`
	Uploads bool `yaml:"uploads"`

	Sanitize          bool   `yaml:"sanitize"`
	SingleTransaction bool   `yaml:"mysql_single_transaction"`
	NewURL            string `yaml:"new_url"`
	MapFile           string `yaml:"map_file"`
}

// LoadProfile reads a YAML migration profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile %s is not valid YAML: %w", path, err)
	}
	return &p, nil
}
