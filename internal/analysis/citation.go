// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"fmt"
	"strings"

	"github.com/pdiddy/research-triage/pkg/types"
)

// maxListedAuthors is the author count above which the list is elided to
// the first six and the last.
const maxListedAuthors = 7

// Name is a person's name split into given and family parts. Single-token
// names use Literal.
type Name struct {
	Given   string
	Family  string
	Literal string
}

// SplitName splits a full name on its last space: everything before is the
// given name, the last token the family name. "Family, Given" input is also
// understood.
func SplitName(name string) Name {
	name = strings.TrimSpace(name)
	if name == "" {
		return Name{}
	}
	if family, given, ok := strings.Cut(name, ","); ok {
		return Name{Given: strings.TrimSpace(given), Family: strings.TrimSpace(family)}
	}
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return Name{Literal: name}
	}
	return Name{Given: strings.TrimSpace(name[:idx]), Family: name[idx+1:]}
}

// initials renders "Jane Q." as "J. Q.".
func initials(given string) string {
	var parts []string
	for _, f := range strings.FieldsFunc(given, func(r rune) bool { return r == ' ' || r == '.' }) {
		r := []rune(f)
		if len(r) == 0 {
			continue
		}
		if strings.Contains(f, "-") {
			var hy []string
			for _, h := range strings.Split(f, "-") {
				if hr := []rune(h); len(hr) > 0 {
					hy = append(hy, string(hr[0])+".")
				}
			}
			parts = append(parts, strings.Join(hy, "-"))
			continue
		}
		parts = append(parts, string(r[0])+".")
	}
	return strings.Join(parts, " ")
}

func apaName(full string) string {
	n := SplitName(full)
	switch {
	case n.Literal != "":
		return n.Literal
	case n.Family == "":
		return ""
	case n.Given == "":
		return n.Family
	default:
		return n.Family + ", " + initials(n.Given)
	}
}

func apaAuthors(authors []string) string {
	var names []string
	for _, a := range authors {
		if n := apaName(a); n != "" {
			names = append(names, n)
		}
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + ", & " + names[1]
	}
	if len(names) > maxListedAuthors {
		return strings.Join(names[:maxListedAuthors-1], ", ") + ", ... " + names[len(names)-1]
	}
	return strings.Join(names[:len(names)-1], ", ") + ", & " + names[len(names)-1]
}

// Citation formats an APA-like reference:
// "Family, G., & Other, H. (2020). Title. Journal. https://doi.org/DOI".
// Missing parts are left out; an unknown year renders as "n.d.".
func Citation(p types.Paper) string {
	var b strings.Builder

	authors := apaAuthors(p.Authors)
	if authors != "" {
		b.WriteString(authors)
		if !strings.HasSuffix(authors, ".") {
			b.WriteString(".")
		}
		b.WriteString(" ")
	}

	if p.Year > 0 {
		fmt.Fprintf(&b, "(%d). ", p.Year)
	} else {
		b.WriteString("(n.d.). ")
	}

	title := strings.TrimSpace(p.Title)
	b.WriteString(title)
	if title != "" && !strings.HasSuffix(title, ".") && !strings.HasSuffix(title, "?") && !strings.HasSuffix(title, "!") {
		b.WriteString(".")
	}

	if j := strings.TrimSpace(p.Journal); j != "" {
		b.WriteString(" ")
		b.WriteString(j)
		b.WriteString(".")
	}

	switch {
	case p.DOI != "":
		b.WriteString(" https://doi.org/")
		b.WriteString(p.DOI)
	case p.URL != "":
		b.WriteString(" ")
		b.WriteString(p.URL)
	}
	return strings.TrimSpace(b.String())
}
