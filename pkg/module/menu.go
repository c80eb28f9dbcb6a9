package module

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Modifier is a bit set of keyboard modifier keys.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModShift
	ModAlt
	ModMeta
)

var modifierNames = []struct {
	mod  Modifier
	name string
}{
	{ModCtrl, "ctrl"},
	{ModShift, "shift"},
	{ModAlt, "alt"},
	{ModMeta, "meta"},
}

// Accelerator is a keyboard shortcut. The zero value means "no accelerator".
// Accelerators are comparable with ==.
type Accelerator struct {
	Key       string
	Modifiers Modifier
}

// IsZero reports whether a is the empty accelerator.
func (a Accelerator) IsZero() bool { return a.Key == "" && a.Modifiers == 0 }

// String renders the accelerator as "ctrl shift A".
func (a Accelerator) String() string {
	if a.IsZero() {
		return ""
	}
	var parts []string
	for _, m := range modifierNames {
		if a.Modifiers&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	parts = append(parts, a.Key)
	return strings.Join(parts, " ")
}

// ParseAccelerator parses shortcuts such as "ctrl shift A", "ctrl+shift+a"
// or "F5". Single letter keys are upper-cased.
func ParseAccelerator(s string) (Accelerator, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '+' })
	if len(fields) == 0 {
		return Accelerator{}, fmt.Errorf("%w: empty accelerator", ErrInvalidAccelerator)
	}

	var acc Accelerator
	for i, f := range fields {
		if i == len(fields)-1 {
			if _, isMod := parseModifier(f); isMod {
				return Accelerator{}, fmt.Errorf("%w: missing key in %q", ErrInvalidAccelerator, s)
			}
			acc.Key = normalizeKey(f)
			break
		}
		mod, ok := parseModifier(f)
		if !ok {
			return Accelerator{}, fmt.Errorf("%w: unknown modifier %q in %q", ErrInvalidAccelerator, f, s)
		}
		acc.Modifiers |= mod
	}
	return acc, nil
}

// MustParseAccelerator is like ParseAccelerator but panics on error.
func MustParseAccelerator(s string) Accelerator {
	acc, err := ParseAccelerator(s)
	if err != nil {
		panic(err)
	}
	return acc
}

func parseModifier(s string) (Modifier, bool) {
	switch strings.ToLower(s) {
	case "ctrl", "control":
		return ModCtrl, true
	case "shift":
		return ModShift, true
	case "alt", "option":
		return ModAlt, true
	case "meta", "cmd", "command":
		return ModMeta, true
	}
	return 0, false
}

func normalizeKey(k string) string {
	if utf8.RuneCountInString(k) == 1 {
		return strings.ToUpper(k)
	}
	return k
}

// MenuEntry is one node of a menu path.
type MenuEntry struct {
	Name        string
	Weight      float64
	Accelerator Accelerator
}

// MenuPath is the ordered sequence of menu labels leading to a module.
type MenuPath []MenuEntry

// ParseMenuPath splits "Process > Math > Add" into a MenuPath.
func ParseMenuPath(s string) MenuPath {
	var path MenuPath
	for _, part := range strings.Split(s, ">") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		path = append(path, MenuEntry{Name: part})
	}
	return path
}

// NewMenuPath builds a MenuPath from plain labels.
func NewMenuPath(names ...string) MenuPath {
	path := make(MenuPath, 0, len(names))
	for _, n := range names {
		path = append(path, MenuEntry{Name: n})
	}
	return path
}

// WithAccelerator returns a copy of p whose leaf carries acc.
func (p MenuPath) WithAccelerator(acc Accelerator) MenuPath {
	if len(p) == 0 {
		return p
	}
	out := make(MenuPath, len(p))
	copy(out, p)
	out[len(out)-1].Accelerator = acc
	return out
}

// Leaf returns the last entry of the path.
func (p MenuPath) Leaf() (MenuEntry, bool) {
	if len(p) == 0 {
		return MenuEntry{}, false
	}
	return p[len(p)-1], true
}

func (p MenuPath) String() string {
	names := make([]string, len(p))
	for i, e := range p {
		names[i] = e.Name
	}
	return strings.Join(names, " > ")
}
