// Package registry holds the preloaded, read-only lookup tables for
// extraction profiles and destination sets. Resolution is pure: no
// I/O, deterministic, done once per source per run.
package registry

import (
	"sort"

	"gazeta/internal/types"
)

type Registry struct {
	profiles map[string]types.Profile
	sets     map[string]types.DestinationSet
}

func New(profiles map[string]types.Profile, sets map[string]types.DestinationSet) *Registry {
	r := &Registry{
		profiles: make(map[string]types.Profile, len(profiles)),
		sets:     make(map[string]types.DestinationSet, len(sets)),
	}
	for name, p := range profiles {
		p.Name = name
		r.profiles[name] = p
	}
	for name, s := range sets {
		s.Name = name
		r.sets[name] = s
	}
	return r
}

func (r *Registry) Profile(name string) (types.Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return types.Profile{}, &types.UnknownProfileError{Name: name}
	}
	return p, nil
}

func (r *Registry) DestinationSet(name string) (types.DestinationSet, error) {
	s, ok := r.sets[name]
	if !ok {
		return types.DestinationSet{}, &types.UnknownDestinationSetError{Name: name}
	}
	return s, nil
}

// Resolve looks up both names for a source config in one call.
func (r *Registry) Resolve(profileName, setName string) (types.Profile, types.DestinationSet, error) {
	p, err := r.Profile(profileName)
	if err != nil {
		return types.Profile{}, types.DestinationSet{}, err
	}
	s, err := r.DestinationSet(setName)
	if err != nil {
		return types.Profile{}, types.DestinationSet{}, err
	}
	return p, s, nil
}

func (r *Registry) ProfileNames() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) DestinationSetNames() []string {
	names := make([]string, 0, len(r.sets))
	for name := range r.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
