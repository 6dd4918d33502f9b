package inventory

import (
	"fmt"
	"os"
	"strings"
)

// Load reads an inventory file from disk, dispatching to ParseYAML or
// ParseINI by extension. A ".yml"/".yaml" path is read as the
// `all.children` tree format; anything else is read as classic INI
// group sections.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory %s: %w", path, err)
	}

	ext := strings.ToLower(path[strings.LastIndex(path, ".")+1:])
	switch ext {
	case "yml", "yaml":
		return ParseYAML(data)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open inventory %s: %w", path, err)
		}
		defer f.Close()
		return ParseINI(f)
	}
}
