package dsinstance

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// Existence is the outcome of comparing a wanted entry with the directory.
type Existence int

const (
	// Absent means the entry does not exist.
	Absent Existence = iota
	// PresentMatching means the entry exists with every wanted value.
	PresentMatching
	// PresentConflicting means the entry exists with different values.
	PresentConflicting
)

// String returns the outcome name.
func (e Existence) String() string {
	switch e {
	case Absent:
		return "absent"
	case PresentMatching:
		return "present"
	case PresentConflicting:
		return "conflicting"
	default:
		return "unknown"
	}
}

// ExistenceCheck compares want with the directory. Only the attributes of
// want are compared; values compare as sets and attribute names ignore case.
func ExistenceCheck(ctx context.Context, dir ports.DirectoryClient, want *ports.Entry) (Existence, error) {
	attrs := make([]string, 0, len(want.Attributes))
	for a := range want.Attributes {
		attrs = append(attrs, a)
	}
	sort.Strings(attrs)

	got, err := dir.GetEntry(ctx, want.DN, attrs...)
	if errors.Is(err, ports.ErrNoSuchEntry) {
		return Absent, nil
	}
	if err != nil {
		return Absent, err
	}

	for _, a := range attrs {
		if !sameValues(want.Values(a), got.Values(a)) {
			return PresentConflicting, nil
		}
	}
	return PresentMatching, nil
}

func sameValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[strings.ToLower(v)]++
	}
	for _, v := range b {
		k := strings.ToLower(v)
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}

// EnsureEntry makes the directory hold want. Absent entries are added,
// conflicting ones have the wanted attributes replaced.
func EnsureEntry(ctx context.Context, dir ports.DirectoryClient, want *ports.Entry) (Existence, error) {
	existence, err := ExistenceCheck(ctx, dir, want)
	if err != nil {
		return existence, err
	}

	switch existence {
	case Absent:
		return existence, dir.AddEntry(ctx, want)
	case PresentConflicting:
		mods := make([]ports.Modification, 0, len(want.Attributes))
		for a, v := range want.Attributes {
			mods = append(mods, ports.Modification{Op: ports.ModReplace, Attr: a, Values: v})
		}
		sort.Slice(mods, func(i, j int) bool { return mods[i].Attr < mods[j].Attr })
		return existence, dir.ModifyEntry(ctx, want.DN, mods)
	default:
		return existence, nil
	}
}
