// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ranking

import (
	"github.com/pdiddy/research-triage/pkg/types"
)

// Group is an ordered set of papers ranked together in one model call.
type Group []types.Paper

// Partition splits papers into consecutive groups whose sizes stay within
// [minSize, maxSize] whenever such a split exists.
//
// Fewer than maxSize papers form a single group. Otherwise groups are cut at
// min(maxSize, max(minSize, n/(n/maxSize))) papers. A final group smaller
// than minSize is dissolved into groups that still have room below maxSize;
// when they lack room, the final group borrows members from groups above
// minSize instead. If neither works, its papers are dealt round-robin onto
// the other groups regardless of maxSize. Invalid bounds, or any panic while
// partitioning, degrade to one group holding every paper.
func Partition(papers []types.Paper, minSize, maxSize int) (groups []Group) {
	n := len(papers)
	if n == 0 {
		return nil
	}
	if minSize < 1 || maxSize < minSize {
		return []Group{clone(papers)}
	}
	defer func() {
		if r := recover(); r != nil {
			groups = []Group{clone(papers)}
		}
	}()

	if n < minSize || n < maxSize {
		return []Group{clone(papers)}
	}

	inner := n / maxSize
	groupSize := maxSize
	if inner > 0 {
		groupSize = min(maxSize, max(minSize, n/inner))
	}

	for start := 0; start < n; start += groupSize {
		end := min(start+groupSize, n)
		groups = append(groups, clone(papers[start:end]))
	}

	last := groups[len(groups)-1]
	if len(groups) == 1 || len(last) >= minSize {
		return groups
	}
	return dissolve(groups[:len(groups)-1], last, minSize, maxSize)
}

// dissolve places the undersized tail group.
func dissolve(full []Group, tail Group, minSize, maxSize int) []Group {
	room := 0
	spare := 0
	for _, g := range full {
		room += maxSize - len(g)
		spare += len(g) - minSize
	}

	switch {
	case room >= len(tail):
		for i := 0; len(tail) > 0; i = (i + 1) % len(full) {
			if len(full[i]) < maxSize {
				full[i] = append(full[i], tail[0])
				tail = tail[1:]
			}
		}
		return full

	case spare >= minSize-len(tail):
		// Borrow from the back so the earliest groups keep their order.
		for i := len(full) - 1; len(tail) < minSize; i-- {
			if i < 0 {
				i = len(full) - 1
			}
			if len(full[i]) > minSize {
				last := len(full[i]) - 1
				tail = append(Group{full[i][last]}, tail...)
				full[i] = full[i][:last]
			}
		}
		return append(full, tail)

	default:
		for i, p := range tail {
			j := i % len(full)
			full[j] = append(full[j], p)
		}
		return full
	}
}

func clone(papers []types.Paper) Group {
	g := make(Group, len(papers))
	copy(g, papers)
	return g
}
