package registry

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk description of a set of generic models.
//
//	models:
//	  - name: widget
//	    alias: wdg
//	    owner: inventory
type Manifest struct {
	Models []ManifestEntry `yaml:"models"`
}

// ManifestEntry declares one model.
type ManifestEntry struct {
	Name  string `yaml:"name"`
	Alias string `yaml:"alias,omitempty"`
	Owner string `yaml:"owner,omitempty"`
}

// LoadManifest decodes a YAML manifest and registers every model it lists
// as a generic entry.
func (r *Registry) LoadManifest(src io.Reader) error {
	var m Manifest
	dec := yaml.NewDecoder(src)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode model manifest: %w", err)
	}
	for _, me := range m.Models {
		if err := r.Register(Entry{Name: me.Name, Alias: me.Alias, Owner: me.Owner}); err != nil {
			return fmt.Errorf("model manifest: %w", err)
		}
	}
	return nil
}

// LoadManifestFile reads a manifest from path.
func (r *Registry) LoadManifestFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.LoadManifest(f)
}

// Manifest returns the registry contents in manifest form. Constructors are
// not represented.
func (r *Registry) Manifest() Manifest {
	var m Manifest
	for _, e := range r.ListAll(KindModel) {
		m.Models = append(m.Models, ManifestEntry{Name: e.Name, Alias: e.Alias, Owner: e.Owner})
	}
	return m
}
