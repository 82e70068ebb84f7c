// Package hid models hierarchical identifiers: a root token followed by
// sibling-order segments, e.g. "H2-1-3". Munasib profiles have none.
package hid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalid = errors.New("invalid hid")

// HID is a parsed hierarchical identifier. The zero value is invalid.
type HID struct {
	root string
	path []int
}

// Parse accepts "-" or "." as the segment separator.
func Parse(s string) (HID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return HID{}, ErrInvalid
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '.' })
	if len(parts) == 0 || strings.Count(s, "-")+strings.Count(s, ".") != len(parts)-1 {
		return HID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	root := parts[0]
	for _, r := range root {
		if !isAlnum(r) {
			return HID{}, fmt.Errorf("%w: root %q", ErrInvalid, root)
		}
	}
	path := make([]int, 0, len(parts)-1)
	for _, part := range parts[1:] {
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return HID{}, fmt.Errorf("%w: segment %q", ErrInvalid, part)
		}
		path = append(path, n)
	}
	return HID{root: strings.ToUpper(root), path: path}, nil
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func (h HID) IsZero() bool { return h.root == "" }

// Depth is the generation depth; a root has depth 1.
func (h HID) Depth() int {
	if h.IsZero() {
		return 0
	}
	return len(h.path) + 1
}

func (h HID) String() string {
	if h.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteString(h.root)
	for _, n := range h.path {
		b.WriteByte('-')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// Last returns the sibling order of the node within its parent, 0 for roots.
func (h HID) Last() int {
	if len(h.path) == 0 {
		return 0
	}
	return h.path[len(h.path)-1]
}

// Parent returns the enclosing node; ok is false for roots.
func (h HID) Parent() (HID, bool) {
	if len(h.path) == 0 {
		return HID{}, false
	}
	return HID{root: h.root, path: append([]int(nil), h.path[:len(h.path)-1]...)}, true
}

// Child returns the HID of the n-th child.
func (h HID) Child(n int) HID {
	path := make([]int, len(h.path), len(h.path)+1)
	copy(path, h.path)
	return HID{root: h.root, path: append(path, n)}
}

// Key is the materialized path of the node. Every segment is terminated so
// that the key of a subtree root is a prefix of exactly its descendants' keys.
func (h HID) Key() string {
	if h.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteString(h.root)
	b.WriteByte('/')
	for _, n := range h.path {
		fmt.Fprintf(&b, "%06d/", n)
	}
	return b.String()
}

// Range returns the half-open key interval [lo, hi) covering the subtree.
func (h HID) Range() (lo, hi string) {
	lo = h.Key()
	if lo == "" {
		return "", ""
	}
	// '/' + 1 == '0'; no key inside the subtree reaches it.
	return lo, lo[:len(lo)-1] + "0"
}

// Contains reports whether other lies in the subtree rooted at h, h included.
func (h HID) Contains(other HID) bool {
	if h.IsZero() || other.IsZero() {
		return false
	}
	lo, hi := h.Range()
	key := other.Key()
	return key >= lo && key < hi
}

// ContainsString is Contains for raw strings; unparsable input never matches.
func ContainsString(branch, target string) bool {
	b, err := Parse(branch)
	if err != nil {
		return false
	}
	t, err := Parse(target)
	if err != nil {
		return false
	}
	return b.Contains(t)
}

// NextChild picks the identifier for a new child of parent given the HIDs of
// its existing children. Gaps left by deleted siblings are not reused.
func NextChild(parent HID, siblings []HID) HID {
	max := 0
	for _, s := range siblings {
		p, ok := s.Parent()
		if !ok || p.Key() != parent.Key() {
			continue
		}
		if s.Last() > max {
			max = s.Last()
		}
	}
	return parent.Child(max + 1)
}
