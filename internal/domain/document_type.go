package domain

import (
	"fmt"
	"regexp"
)

// DocumentType declares how documents of one kind take part in versioning.
// Historized types keep a snapshot of every replaced state.
type DocumentType struct {
	Name                string `yaml:"name" json:"name"`
	Historized          bool   `yaml:"historized" json:"historized"`
	RequirePrecondition bool   `yaml:"require_precondition" json:"require_precondition"`
}

// UsersType stores accounts. It is registered internally and never routed.
var UsersType = DocumentType{Name: "users", RequirePrecondition: true}

var typeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

func DefaultDocumentTypes() []DocumentType {
	return []DocumentType{
		{Name: "notes", Historized: true, RequirePrecondition: true},
		{Name: "workspaces", Historized: false, RequirePrecondition: true},
	}
}

type TypeRegistry struct {
	types map[string]DocumentType
	order []string
}

func NewTypeRegistry(types ...DocumentType) (*TypeRegistry, error) {
	r := &TypeRegistry{types: make(map[string]DocumentType, len(types))}
	for _, t := range types {
		if !typeNamePattern.MatchString(t.Name) {
			return nil, fmt.Errorf("invalid document type name %q", t.Name)
		}
		if t.Name == UsersType.Name {
			return nil, fmt.Errorf("document type name %q is reserved", t.Name)
		}
		if _, dup := r.types[t.Name]; dup {
			return nil, fmt.Errorf("document type %q declared twice", t.Name)
		}
		r.types[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("no document types declared")
	}
	return r, nil
}

func (r *TypeRegistry) Lookup(name string) (DocumentType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// All returns the declared types in declaration order.
func (r *TypeRegistry) All() []DocumentType {
	out := make([]DocumentType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}
