// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package mirror

import "sort"

// Pending is a remote message that has not been stored yet.
type Pending struct {
	Number int
	UIDL   string
}

// Diff returns the entries of remote whose UIDL is not in known, ordered by
// ascending message number. A UIDL listed under several message numbers is
// returned once, for the lowest number. Diff does not modify its arguments.
func Diff(remote map[int]string, known map[string]struct{}) []Pending {
	numbers := make([]int, 0, len(remote))
	for n := range remote {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	seen := make(map[string]struct{})
	var pending []Pending
	for _, n := range numbers {
		uidl := remote[n]
		if _, ok := known[uidl]; ok {
			continue
		}
		if _, ok := seen[uidl]; ok {
			continue
		}
		seen[uidl] = struct{}{}
		pending = append(pending, Pending{Number: n, UIDL: uidl})
	}
	return pending
}

// batches splits p into consecutive runs of at most size entries.
func batches(p []Pending, size int) [][]Pending {
	if size < 1 {
		size = DefaultBatchSize
	}
	var out [][]Pending
	for len(p) > 0 {
		n := size
		if n > len(p) {
			n = len(p)
		}
		out = append(out, p[:n:n])
		p = p[n:]
	}
	return out
}
