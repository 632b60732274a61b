package grapeconv

// The category label map. ID 0 is reserved for the background class.

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"sort"
	"strconv"
)

// BackgroundID is the reserved category ID for the background class.
const BackgroundID = 0

// LabelMap is a bijection between integer category IDs and label names.
type LabelMap struct {
	byID   map[int]string
	byName map[string]int
}

// NewLabelMap creates a label map from the given ID to name assignments. ID 0 maps to
// "background" unless overridden.
func NewLabelMap(names map[int]string) (*LabelMap, error) {
	m := &LabelMap{
		byID:   make(map[int]string, len(names)+1),
		byName: make(map[string]int, len(names)+1),
	}
	m.byID[BackgroundID] = "background"

	for id, name := range names {
		if id < 0 {
			return nil, fmt.Errorf("invalid category ID %d for label %q", id, name)
		}
		m.byID[id] = name
	}
	for id, name := range m.byID {
		if other, dup := m.byName[name]; dup {
			return nil, fmt.Errorf("label %q is mapped to both ID %d and %d", name, other, id)
		}
		m.byName[name] = id
	}

	return m, nil
}

// SingleClassLabelMap creates a label map with the single foreground category name at ID 1.
func SingleClassLabelMap(name string) *LabelMap {
	return &LabelMap{
		byID:   map[int]string{BackgroundID: "background", 1: name},
		byName: map[string]int{"background": BackgroundID, name: 1},
	}
}

// LoadLabelMap reads a JSON label map from path. The document maps category IDs (as JSON object
// keys) to label names, e.g. {"0": "background", "1": "grape"}.
func LoadLabelMap(path string) (*LabelMap, error) {
	enc, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read the label map %q: %v", path, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(enc, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse the label map %q: %v", path, err)
	}

	names := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid category ID %q in label map %q", k, path)
		}
		names[id] = v
	}

	m, err := NewLabelMap(names)
	if err != nil {
		return nil, fmt.Errorf("invalid label map %q: %v", path, err)
	}
	return m, nil
}

// Write writes the label map to path as JSON.
func (m *LabelMap) Write(path string) error {
	raw := make(map[string]string, len(m.byID))
	for id, name := range m.byID {
		raw[strconv.Itoa(id)] = name
	}

	enc, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, enc, 0644)
}

// Name returns the label name for id.
func (m *LabelMap) Name(id int) (string, bool) {
	name, ok := m.byID[id]
	return name, ok
}

// ID returns the category ID for the label name.
func (m *LabelMap) ID(name string) (int, bool) {
	id, ok := m.byName[name]
	return id, ok
}

// ForegroundIDs returns the non-background category IDs in ascending order.
func (m *LabelMap) ForegroundIDs() []int {
	ids := make([]int, 0, len(m.byID))
	for id := range m.byID {
		if id != BackgroundID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}
