package scenario

import (
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// Default scenario directories to search before the built-in presets.
var scenarioSearchPaths = []string{
	"scenarios",
	"../scenarios",
}

// Load loads a scenario by name, from a search path first and then from
// the built-in presets. A name containing a path separator or ending in
// .yaml is read as a file.
func Load(name string) (*Scenario, error) {
	if strings.ContainsRune(name, os.PathSeparator) || strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		if _, err := os.Stat(name); err == nil {
			return ParseFile(name)
		}
	}

	name = strings.TrimSuffix(name, ".yaml")
	name = strings.TrimSuffix(name, ".yml")

	for _, base := range scenarioSearchPaths {
		for _, ext := range []string{".yaml", ".yml"} {
			p := filepath.Join(base, name+ext)
			if _, err := os.Stat(p); err == nil {
				return ParseFile(p)
			}
		}
	}

	data, err := presetFS.ReadFile(path.Join("presets", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("scenario not found: %s", name)
	}
	return Parse(data)
}

// Presets returns the names of the built-in scenarios, sorted.
func Presets() []string {
	entries, err := presetFS.ReadDir("presets")
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// AddSearchPath adds a directory to search for scenarios.
func AddSearchPath(dir string) {
	scenarioSearchPaths = append([]string{dir}, scenarioSearchPaths...)
}
