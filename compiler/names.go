package compiler

import (
	"sort"
	"strings"
)

// Names is a prefix trie of `::` separated item paths known to the
// compile environment, such as the host's native functions.
type Names struct {
	root namesNode
	size int
}

type namesNode struct {
	term     bool
	children map[string]*namesNode
}

// NewNames creates a trie holding the given paths.
func NewNames(paths ...string) *Names {
	n := &Names{}
	for _, path := range paths {
		n.Insert(path)
	}
	return n
}

func splitPath(path string) []string {
	return strings.Split(path, "::")
}

// Insert adds a path. It reports whether the path was new.
func (n *Names) Insert(path string) bool {
	node := &n.root
	for _, seg := range splitPath(path) {
		if node.children == nil {
			node.children = make(map[string]*namesNode)
		}
		child, ok := node.children[seg]
		if !ok {
			child = &namesNode{}
			node.children[seg] = child
		}
		node = child
	}
	if node.term {
		return false
	}
	node.term = true
	n.size++
	return true
}

func (n *Names) find(path string) *namesNode {
	if n == nil {
		return nil
	}
	node := &n.root
	for _, seg := range splitPath(path) {
		child, ok := node.children[seg]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// Contains reports whether path was inserted.
func (n *Names) Contains(path string) bool {
	node := n.find(path)
	return node != nil && node.term
}

// ContainsPrefix reports whether some inserted path starts with the
// segments of prefix.
func (n *Names) ContainsPrefix(prefix string) bool {
	return n.find(prefix) != nil
}

// Len returns the number of paths.
func (n *Names) Len() int {
	if n == nil {
		return 0
	}
	return n.size
}

// Children returns the sorted segments that directly follow prefix. An
// empty prefix lists the top-level segments.
func (n *Names) Children(prefix string) []string {
	if n == nil {
		return nil
	}
	node := &n.root
	if prefix != "" {
		node = n.find(prefix)
		if node == nil {
			return nil
		}
	}
	out := make([]string, 0, len(node.children))
	for seg := range node.children {
		out = append(out, seg)
	}
	sort.Strings(out)
	return out
}

// All returns every inserted path in sorted order.
func (n *Names) All() []string {
	if n == nil {
		return nil
	}
	var out []string
	var walk func(node *namesNode, prefix string)
	walk = func(node *namesNode, prefix string) {
		if node.term {
			out = append(out, prefix)
		}
		for seg, child := range node.children {
			if prefix == "" {
				walk(child, seg)
			} else {
				walk(child, prefix+"::"+seg)
			}
		}
	}
	walk(&n.root, "")
	sort.Strings(out)
	return out
}

// Merge inserts every path of other.
func (n *Names) Merge(other *Names) {
	for _, path := range other.All() {
		n.Insert(path)
	}
}
