package config

import (
	"sort"
	"strconv"
)

// Tree is a generic configuration value tree: every node is either a
// nested Tree (a table) or a scalar leaf (string, int64, bool, ...).
// Flat dotted-key lookups are a convenience view over the same
// structure and must stay consistent with it (design note 9).
type Tree map[string]any

// Child returns the named child node as a Tree, and whether it exists
// and is itself a table (as opposed to a scalar leaf).
func (t Tree) Child(name string) (Tree, bool) {
	if t == nil {
		return nil, false
	}
	v, ok := t[name]
	if !ok {
		return nil, false
	}
	switch child := v.(type) {
	case Tree:
		return child, true
	case map[string]any:
		return Tree(child), true
	default:
		return nil, false
	}
}

// String returns a scalar string attribute on this node, if present.
func (t Tree) String(name string) (string, bool) {
	v, ok := t[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns a scalar integer attribute on this node, if present. Koanf
// decodes TOML integers as int64 and confmap values as int, while the env
// layer yields strings, so all three (and float64) are accepted.
func (t Tree) Int(name string) (int, bool) {
	v, ok := t[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// ChildNames returns the names of every child node that is itself a
// table, sorted lexicographically.
func (t Tree) ChildNames() []string {
	var names []string
	for k, v := range t {
		switch v.(type) {
		case Tree, map[string]any:
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// HasAttr reports whether this node carries a given scalar attribute
// directly (not inherited from an ancestor).
func (t Tree) HasAttr(name string) bool {
	_, ok := t[name]
	return ok
}
