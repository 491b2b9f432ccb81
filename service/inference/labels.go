package inference

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// DefaultLabels is the class order the office-items model was trained with.
var DefaultLabels = []string{
	"Bin",
	"Bottle",
	"Keyboard",
	"Laptop",
	"Mouse",
	"Mug",
	"Notebook",
	"Pen",
	"Phone",
	"Stapler",
}

// LoadLabels reads class names either from a plain text file (one per line)
// or from a dataset yaml with a `names` list or index map. An empty path
// returns DefaultLabels.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return append([]string{}, DefaultLabels...), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("error reading labels %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return parseYAMLLabels(data)
	}

	labels := []string{}
	for _, line := range strings.Split(string(data), "\n") {
		if l := strings.TrimSpace(line); l != "" {
			labels = append(labels, l)
		}
	}
	if len(labels) == 0 {
		return nil, xerrors.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

func parseYAMLLabels(data []byte) ([]string, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, xerrors.Errorf("error parsing labels yaml: %w", err)
	}

	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, xerrors.Errorf("error decoding names: %w", err)
		}
		return names, nil

	case yaml.MappingNode:
		var byIndex map[int]string
		if err := doc.Names.Decode(&byIndex); err != nil {
			return nil, xerrors.Errorf("error decoding names: %w", err)
		}
		idx := make([]int, 0, len(byIndex))
		for i := range byIndex {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		names := make([]string, 0, len(idx))
		for n, i := range idx {
			if i != n {
				return nil, xerrors.Errorf("names map has a gap at index %d", n)
			}
			names = append(names, byIndex[i])
		}
		return names, nil
	}

	return nil, xerrors.New("labels yaml has no names")
}
