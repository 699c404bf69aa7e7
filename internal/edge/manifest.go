package edge

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TagJournalSync  = "sync-journal-entries"
	TagMarketPrices = "update-market-prices"
)

// Manifest lists the routes warmed on install, the routes each periodic
// tag refreshes, and the origin route each background-sync tag replays to.
type Manifest struct {
	Routes   []string            `yaml:"routes" json:"routes"`
	Periodic map[string][]string `yaml:"periodic" json:"periodic"`
	Sync     map[string]string   `yaml:"sync" json:"sync"`
}

// DefaultManifest returns the page routes the client needs offline.
func DefaultManifest() Manifest {
	return Manifest{
		Routes: []string{"/", "/diagnosis", "/advisor", "/prices", "/journal", "/offline"},
		Periodic: map[string][]string{
			TagMarketPrices: {"/prices"},
		},
		Sync: map[string]string{
			TagJournalSync: "/api/journal",
		},
	}
}

// LoadManifest reads a YAML manifest. Sections missing from the file keep
// their defaults.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	def := DefaultManifest()
	if m.Routes == nil {
		m.Routes = def.Routes
	}
	if m.Periodic == nil {
		m.Periodic = def.Periodic
	}
	if m.Sync == nil {
		m.Sync = def.Sync
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks that every cached route is an absolute, non-API path.
func (m Manifest) Validate() error {
	check := func(route string) error {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("manifest route %q must start with /", route)
		}
		if isAPIPath(route) {
			return fmt.Errorf("manifest route %q is an API route and cannot be cached", route)
		}
		return nil
	}
	for _, r := range m.Routes {
		if err := check(r); err != nil {
			return err
		}
	}
	for tag, routes := range m.Periodic {
		for _, r := range routes {
			if err := check(r); err != nil {
				return fmt.Errorf("periodic tag %s: %w", tag, err)
			}
		}
	}
	for tag, r := range m.Sync {
		if !strings.HasPrefix(r, "/") {
			return fmt.Errorf("sync tag %s: route %q must start with /", tag, r)
		}
	}
	return nil
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/")
}
