package dsinstance

import (
	"fmt"
	"strings"
)

// ReplaceLDIFValue sets attr to value in the entry dn of an LDIF document,
// dropping any previous values including folded continuation lines. The
// attribute is appended when the entry lacks it.
func ReplaceLDIFValue(doc, dn, attr, value string) (string, error) {
	lines := strings.Split(doc, "\n")
	out := make([]string, 0, len(lines)+1)

	inEntry, found, replaced, skipping := false, false, false, false
	flush := func() {
		if inEntry && !replaced {
			out = append(out, attr+": "+value)
			replaced = true
		}
	}

	for _, line := range lines {
		if skipping && strings.HasPrefix(line, " ") {
			continue
		}
		skipping = false

		if strings.TrimSpace(line) == "" {
			flush()
			inEntry = false
			out = append(out, line)
			continue
		}

		if name, v, ok := strings.Cut(line, ":"); ok && strings.EqualFold(name, "dn") {
			inEntry = strings.EqualFold(normalizeDN(strings.TrimSpace(v)), normalizeDN(dn))
			if inEntry {
				found = true
				replaced = false
			}
			out = append(out, line)
			continue
		}

		if inEntry {
			if name, _, ok := strings.Cut(line, ":"); ok && strings.EqualFold(name, attr) {
				skipping = true
				if !replaced {
					out = append(out, attr+": "+value)
					replaced = true
				}
				continue
			}
		}
		out = append(out, line)
	}
	flush()

	if !found {
		return "", fmt.Errorf("entry %q not found", dn)
	}
	return strings.Join(out, "\n"), nil
}

func normalizeDN(dn string) string {
	parts := strings.Split(dn, ",")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, ",")
}
