// Package definitions embeds the built-in site descriptors.
package definitions

import (
	"embed"
	"io/fs"
	"path"
	"strings"
)

//go:embed *.yml
var files embed.FS

// Names returns the ids of the built-in descriptors.
func Names() []string {
	entries, _ := fs.ReadDir(files, ".")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yml" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yml"))
	}
	return names
}

// Read returns the raw YAML of a built-in descriptor.
func Read(id string) ([]byte, error) {
	return files.ReadFile(strings.ToLower(id) + ".yml")
}
