// Package window splits a recording's sample axis into the ordered, overlapping
// half-open windows that every downstream stage analyses independently.
//
// Windows are generated in increasing start order. Consecutive windows overlap
// by size-step samples, and a tail remainder shorter than one step is left
// uncovered rather than padded.
package window
