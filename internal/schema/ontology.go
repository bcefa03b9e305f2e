package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ontologies maps a lower-cased ontology name to its accepted terms.
type Ontologies map[string]map[string]struct{}

// ParseOntologies decodes an ontology validator file: a mapping from
// ontology name to the list of accepted terms. Names are lower-cased.
func ParseOntologies(raw []byte) (Ontologies, error) {
	var doc map[string][]string
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &ConfigError{Format: "ontologies", Err: fmt.Errorf("parse yaml: %w", err)}
	}

	out := make(Ontologies, len(doc))
	for name, terms := range doc {
		key := strings.ToLower(strings.TrimSpace(name))
		set, ok := out[key]
		if !ok {
			set = make(map[string]struct{}, len(terms))
			out[key] = set
		}
		for _, t := range terms {
			set[strings.TrimSpace(t)] = struct{}{}
		}
	}
	return out, nil
}

// Has reports whether term belongs to the named ontology.
// The second result is false when the ontology itself is unknown.
func (o Ontologies) Has(ontology, term string) (found, known bool) {
	set, ok := o[strings.ToLower(ontology)]
	if !ok {
		return false, false
	}
	_, found = set[term]
	return found, true
}
