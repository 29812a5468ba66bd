// Package wiring parses the TOML wiring file for a run. Only the
// plugins list and the flat params table are decoded; factory and
// arrow entries are not read from the file.
//
// Parameters are resolved with a prefix-keyed inheritance overlay: a
// bare key like "event_pool_size" sets the engine-wide default, while
// "myplugin:event_pool_size" overrides it only for components whose
// registered prefix is "myplugin". This mirrors JANA2's
// JParameterManager prefix-scoping convention.
package wiring

import (
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/oriys/jana2go/internal/janaerr"
)

// Document is the parsed wiring file.
type Document struct {
	Plugins []string          `toml:"plugins"`
	Params  map[string]string `toml:"params"`
}

// Load parses a TOML wiring file from path.
func Load(path string) (*Document, error) {
	var doc Document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, janaerr.Wrap(janaerr.KindConfiguration, "failed to parse wiring file "+path, err)
	}
	if doc.Params == nil {
		doc.Params = make(map[string]string)
	}
	return &doc, nil
}

// Resolve looks up key scoped to prefix, falling back to the
// unscoped key, then to fallback if neither is set.
func (d *Document) Resolve(prefix, key, fallback string) string {
	if prefix != "" {
		if v, ok := d.Params[prefix+":"+key]; ok {
			return v
		}
	}
	if v, ok := d.Params[key]; ok {
		return v
	}
	return fallback
}

// ResolveFor returns every param key (with its prefix stripped) that
// was scoped to prefix, for a component that wants to enumerate its
// own overrides rather than look them up individually.
func (d *Document) ResolveFor(prefix string) map[string]string {
	out := make(map[string]string)
	want := prefix + ":"
	for k, v := range d.Params {
		if strings.HasPrefix(k, want) {
			out[strings.TrimPrefix(k, want)] = v
		}
	}
	return out
}
