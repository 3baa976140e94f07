// Package reference resolves free-text dating methods, sample materials and
// citations to reference-table identifiers.
package reference

import (
	"context"
	"fmt"

	"github.com/austarch/austarch-db/internal/archive"
)

// UnknownMaterial is the material code used when a description is missing
// or unrecognised.
const UnknownMaterial = "UNKNOWN"

// Snapshot is an immutable copy of the method and material tables taken at
// the start of a run.
type Snapshot struct {
	methods     map[string]archive.DatingMethod
	methodsByID map[int64]archive.DatingMethod
	materials   map[string]archive.SampleMaterial
}

func NewSnapshot(methods []archive.DatingMethod, materials []archive.SampleMaterial) (*Snapshot, error) {
	s := &Snapshot{
		methods:     make(map[string]archive.DatingMethod, len(methods)),
		methodsByID: make(map[int64]archive.DatingMethod, len(methods)),
		materials:   make(map[string]archive.SampleMaterial, len(materials)),
	}
	for _, m := range methods {
		s.methods[m.Code] = m
		s.methodsByID[m.ID] = m
	}
	for _, m := range materials {
		s.materials[m.Code] = m
	}
	if len(s.methods) == 0 {
		return nil, fmt.Errorf("reference snapshot: no dating methods loaded (run the seeder)")
	}
	if _, ok := s.materials[UnknownMaterial]; !ok {
		return nil, fmt.Errorf("reference snapshot: material %s is missing (run the seeder)", UnknownMaterial)
	}
	return s, nil
}

// Source is where snapshots are loaded from.
type Source interface {
	DatingMethods(ctx context.Context) ([]archive.DatingMethod, error)
	SampleMaterials(ctx context.Context) ([]archive.SampleMaterial, error)
}

func LoadSnapshot(ctx context.Context, src Source) (*Snapshot, error) {
	methods, err := src.DatingMethods(ctx)
	if err != nil {
		return nil, err
	}
	materials, err := src.SampleMaterials(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(methods, materials)
}

func (s *Snapshot) Method(code string) (archive.DatingMethod, bool) {
	m, ok := s.methods[code]
	return m, ok
}

func (s *Snapshot) MethodByID(id int64) (archive.DatingMethod, bool) {
	m, ok := s.methodsByID[id]
	return m, ok
}

func (s *Snapshot) Material(code string) (archive.SampleMaterial, bool) {
	m, ok := s.materials[code]
	return m, ok
}
