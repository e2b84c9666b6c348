package repository

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"registration-system/models"
)

// DirectorySeed is the JSON document a MemoryDirectory is loaded from:
//
//	{"families": [{"id": "...", "holder_id": "..."}],
//	 "dependants": [{"id": "...", "family_id": "...", "first_name": "..."}]}
type DirectorySeed struct {
	Families   []models.Family    `json:"families"`
	Dependants []models.Dependant `json:"dependants"`
}

// LoadDirectorySeedFile reads a seed document from path.
func LoadDirectorySeedFile(path string) (*MemoryDirectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open directory seed: %w", err)
	}
	defer f.Close()
	return LoadDirectorySeed(f)
}

// LoadDirectorySeed builds a MemoryDirectory from a seed document. Every
// dependant must belong to a family listed in the same document.
func LoadDirectorySeed(r io.Reader) (*MemoryDirectory, error) {
	var seed DirectorySeed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode directory seed: %w", err)
	}

	d := NewMemoryDirectory()
	for _, f := range seed.Families {
		if f.ID == "" || f.HolderID == "" {
			return nil, fmt.Errorf("%w: family needs id and holder_id", models.ErrInvalidInput)
		}
		d.AddFamily(f)
	}
	for _, dep := range seed.Dependants {
		if dep.ID == "" {
			return nil, fmt.Errorf("%w: dependant needs an id", models.ErrInvalidInput)
		}
		if _, ok := d.families[dep.FamilyID]; !ok {
			return nil, fmt.Errorf("%w: dependant %s references unknown family %q", models.ErrInvalidInput, dep.ID, dep.FamilyID)
		}
		d.AddDependant(dep)
	}
	return d, nil
}
