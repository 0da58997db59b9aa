// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/pdiddy/research-triage/pkg/types"
)

var doiPrefixes = []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"}

// Normalize converts raw search records into Papers. Records without a title
// are dropped. Records sharing a DOI or a normalized title are merged, the
// first occurrence filling its empty fields from later ones. Every Paper
// gets an ID unique within the returned slice.
func Normalize(raw []types.RawResult) []types.Paper {
	seen := make(map[string]int) // dedup key → index in papers
	var papers []types.Paper

	for _, r := range raw {
		p, ok := toPaper(r)
		if !ok {
			continue
		}

		doiKey := ""
		if p.DOI != "" {
			doiKey = "doi:" + strings.ToLower(p.DOI)
		}
		titleKey := "title:" + normalizeTitle(p.Title)

		idx, dup := seen[doiKey]
		if doiKey == "" || !dup {
			idx, dup = seen[titleKey]
		}
		if dup {
			mergeInto(&papers[idx], p)
			if doiKey != "" {
				seen[doiKey] = idx
			}
			continue
		}

		idx = len(papers)
		papers = append(papers, p)
		if doiKey != "" {
			seen[doiKey] = idx
		}
		seen[titleKey] = idx
	}

	assignIDs(papers)
	return papers
}

func toPaper(r types.RawResult) (types.Paper, bool) {
	title := strings.Join(strings.Fields(r.Title), " ")
	if title == "" {
		return types.Paper{}, false
	}
	var authors []string
	for _, a := range r.Authors {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	return types.Paper{
		DOI:           cleanDOI(r.DOI),
		Title:         title,
		Authors:       authors,
		Year:          max(r.Year, 0),
		FullText:      strings.TrimSpace(r.FullText),
		Journal:       strings.TrimSpace(r.Journal),
		CitationCount: max(r.CitationCount, 0),
		URL:           strings.TrimSpace(r.URL),
	}, true
}

// cleanDOI strips resolver prefixes so equal DOIs compare equal.
func cleanDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	lower := strings.ToLower(doi)
	for _, prefix := range doiPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return doi[len(prefix):]
		}
	}
	return doi
}

// mergeInto fills empty fields of dst from src. The longer full text and
// the higher citation count win.
func mergeInto(dst *types.Paper, src types.Paper) {
	if dst.DOI == "" && src.DOI != "" {
		dst.DOI = src.DOI
	}
	if len(dst.Authors) == 0 && len(src.Authors) > 0 {
		dst.Authors = src.Authors
	}
	if dst.Year == 0 && src.Year != 0 {
		dst.Year = src.Year
	}
	if len(src.FullText) > len(dst.FullText) {
		dst.FullText = src.FullText
	}
	if dst.Journal == "" && src.Journal != "" {
		dst.Journal = src.Journal
	}
	if src.CitationCount > dst.CitationCount {
		dst.CitationCount = src.CitationCount
	}
	if dst.URL == "" && src.URL != "" {
		dst.URL = src.URL
	}
}

// normalizeTitle returns a lowercased, punctuation-stripped version of the title.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// assignIDs gives each paper a DOI slug, or a title hash when it has no
// DOI. A repeated ID gets the lowest free numeric suffix, so IDs stay
// unique even when a suffixed form collides with another paper's slug.
func assignIDs(papers []types.Paper) {
	used := make(map[string]bool, len(papers))
	for i := range papers {
		base := baseID(papers[i])
		id := base
		for n := 2; used[id]; n++ {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		used[id] = true
		papers[i].ID = id
	}
}

func baseID(p types.Paper) string {
	if p.DOI != "" {
		var b strings.Builder
		for _, r := range strings.ToLower(p.DOI) {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			} else {
				b.WriteByte('-')
			}
		}
		return "doi-" + strings.Trim(b.String(), "-")
	}
	sum := sha256.Sum256([]byte(normalizeTitle(p.Title)))
	return "t-" + hex.EncodeToString(sum[:6])
}

// FilterByLength keeps papers whose full text has at least minWords words.
func FilterByLength(papers []types.Paper, minWords int) []types.Paper {
	var kept []types.Paper
	for _, p := range papers {
		if p.WordCount() >= minWords {
			kept = append(kept, p)
		}
	}
	return kept
}
