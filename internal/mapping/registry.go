package mapping

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type wildcard struct {
	prefix string
	mapper Mapper
}

// Registry resolves wire object types to mappers. Lookups are safe for
// concurrent use once registration is complete.
type Registry struct {
	mu           sync.RWMutex
	exact        map[string]Mapper
	wildcards    []wildcard
	byRecordType map[string]Mapper
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		exact:        make(map[string]Mapper),
		byRecordType: make(map[string]Mapper),
	}
}

// Register adds m under patterns, or under m.ObjectType() when none are given.
// A pattern ending in "*" matches every type with that prefix.
func (r *Registry) Register(m Mapper, patterns ...string) error {
	if m == nil {
		return fmt.Errorf("mapper is nil")
	}
	if len(patterns) == 0 {
		patterns = []string{m.ObjectType()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pattern := range patterns {
		if pattern == "" {
			return fmt.Errorf("empty pattern for mapper %s", m.RecordType())
		}
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			for _, existing := range r.wildcards {
				if existing.prefix == prefix {
					return fmt.Errorf("wildcard %q is already registered", pattern)
				}
			}
			r.wildcards = append(r.wildcards, wildcard{prefix: prefix, mapper: m})
			continue
		}
		if _, exists := r.exact[pattern]; exists {
			return fmt.Errorf("object type %q is already registered", pattern)
		}
		r.exact[pattern] = m
	}

	sort.SliceStable(r.wildcards, func(i, j int) bool {
		return len(r.wildcards[i].prefix) > len(r.wildcards[j].prefix)
	})

	if _, exists := r.byRecordType[m.RecordType()]; !exists {
		r.byRecordType[m.RecordType()] = m
	}
	return nil
}

// Resolve finds the mapper for a wire type. Exact registrations win over
// wildcards; among wildcards the longest prefix wins.
func (r *Registry) Resolve(objectType string) (Mapper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.exact[objectType]; ok {
		return m, true
	}
	for _, w := range r.wildcards {
		if strings.HasPrefix(objectType, w.prefix) {
			return w.mapper, true
		}
	}
	return nil, false
}

// ResolveRecordType finds the mapper producing records of recordType.
func (r *Registry) ResolveRecordType(recordType string) (Mapper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byRecordType[recordType]
	return m, ok
}

// ObjectTypes lists the concrete canonical wire types of registered mappers;
// wildcard families are left out.
func (r *Registry) ObjectTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.byRecordType))
	for _, m := range r.byRecordType {
		if strings.HasSuffix(m.ObjectType(), "*") {
			continue
		}
		types = append(types, m.ObjectType())
	}
	sort.Strings(types)
	return types
}
