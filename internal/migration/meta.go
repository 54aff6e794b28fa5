package migration

import (
	"encoding/json"
	"fmt"
	"os"
)

// PluginInfo is one entry of a site's plugin inventory, read from the
// plugin file headers at export time.
type PluginInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SiteMeta describes the exported site. It travels inside the package as
// a JSON document and drives site creation and search-replace on import.
type SiteMeta struct {
	URL            string                `json:"url"`
	Name           string                `json:"name"`
	AdminEmail     string                `json:"admin_email"`
	SiteLanguage   string                `json:"site_language"`
	DBPrefix       string                `json:"db_prefix"`
	Plugins        map[string]PluginInfo `json:"plugins"`
	BlogPlugins    []string              `json:"blog_plugins"`
	NetworkPlugins []string              `json:"network_plugins"`
	BlogID         int64                 `json:"blog_id"`
}

// Validate checks the fields the import pipeline cannot proceed without.
func (m *SiteMeta) Validate() error {
	if m.URL == "" {
		return fmt.Errorf("site metadata is missing the url field")
	}
	if m.DBPrefix == "" {
		return fmt.Errorf("site metadata is missing the db_prefix field")
	}
	return nil
}

// LoadSiteMeta reads and validates a metadata document.
func LoadSiteMeta(path string) (*SiteMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read site metadata %s: %w", path, err)
	}
	var m SiteMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("site metadata %s is not valid JSON: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Save writes the metadata document.
func (m *SiteMeta) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write site metadata %s: %w", path, err)
	}
	return nil
}
