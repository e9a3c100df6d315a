package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/scrapecore/internal/indexer/definitions"
	"github.com/slipstream/scrapecore/internal/indexer/scraper"
)

const (
	fileExtYML  = ".yml"
	fileExtYAML = ".yaml"
)

// DefinitionMetadata describes an available descriptor.
type DefinitionMetadata struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	BaseURL  string `json:"baseUrl"`
	Auth     string `json:"authStrategy"`
	IsCustom bool   `json:"isCustom"`
}

type catalogEntry struct {
	def    *scraper.Definition
	custom bool
	path   string
}

// Catalog holds the built-in descriptors plus custom ones from a directory.
// A custom descriptor with the same id as a built-in replaces it.
type Catalog struct {
	entries map[string]catalogEntry
}

// LoadCatalog parses the embedded descriptors and every *.yml or *.yaml file
// in customDir. A missing customDir is not an error; an invalid file is.
func LoadCatalog(customDir string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]catalogEntry)}

	for _, name := range definitions.Names() {
		data, err := definitions.Read(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read built-in definition %s: %w", name, err)
		}
		def, err := scraper.ParseDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("built-in definition %s: %w", name, err)
		}
		c.entries[strings.ToLower(def.ID)] = catalogEntry{def: def}
	}

	if customDir == "" {
		return c, nil
	}

	entries, err := os.ReadDir(customDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug().Str("dir", customDir).Msg("Custom definitions directory does not exist")
			return c, nil
		}
		return nil, fmt.Errorf("failed to list custom definitions: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != fileExtYML && ext != fileExtYAML {
			continue
		}

		path := filepath.Join(customDir, entry.Name())
		def, err := scraper.ParseDefinitionFile(path)
		if err != nil {
			return nil, fmt.Errorf("custom definition %s: %w", path, err)
		}
		if def.ID == "" {
			return nil, fmt.Errorf("custom definition %s has no id", path)
		}
		id := strings.ToLower(def.ID)
		if prev, ok := c.entries[id]; ok && prev.custom {
			return nil, fmt.Errorf("custom definition %s duplicates id %q from %s", path, def.ID, prev.path)
		}
		c.entries[id] = catalogEntry{def: def, custom: true, path: path}
		logger.Info().Str("id", def.ID).Str("file", path).Msg("Loaded custom definition")
	}

	return c, nil
}

// Get returns the descriptor for id, case-insensitively.
func (c *Catalog) Get(id string) (*scraper.Definition, bool) {
	e, ok := c.entries[strings.ToLower(id)]
	return e.def, ok
}

// List returns metadata for every descriptor, sorted by id.
func (c *Catalog) List() []DefinitionMetadata {
	out := make([]DefinitionMetadata, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, DefinitionMetadata{
			ID:       e.def.ID,
			Name:     e.def.Name,
			BaseURL:  e.def.GetBaseURL(),
			Auth:     e.def.AuthStrategy(),
			IsCustom: e.custom,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
