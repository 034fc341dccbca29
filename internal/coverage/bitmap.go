package coverage

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// Range is an inclusive [Start, End] pair of grid positions.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Len() int64 { return r.End - r.Start + 1 }

// Bitmap is the compressed sparse-bitmap coverage record described in
// spec.md §3/§4.2: set bit i means the bar at grid position i has been
// materialized. Grounded on original_source/src/asset_sync/src/roaring_bytes.rs,
// which serializes the same roaring::RoaringBitmap this wraps.
type Bitmap struct {
	rb *roaring.Bitmap
}

func New() *Bitmap { return &Bitmap{rb: roaring.New()} }

// FromBytes deserializes the persisted BLOB form (spec.md §6.3
// asset_coverage_bitmap.bitmap).
func FromBytes(b []byte) (*Bitmap, error) {
	rb := roaring.New()
	if len(b) > 0 {
		if _, err := rb.ReadFrom(bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("coverage: decode bitmap: %w", err)
		}
	}
	return &Bitmap{rb: rb}, nil
}

// Bytes serializes to the persisted BLOB form.
func (c *Bitmap) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.rb.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("coverage: encode bitmap: %w", err)
	}
	return buf.Bytes(), nil
}

// IsCovered reports whether grid position i is set.
func (c *Bitmap) IsCovered(i int64) bool {
	return c.rb.Contains(uint32ClampCheck(i))
}

// MarkCovered sets every position in [r.Start, r.End] (spec.md §4.2
// mark_covered).
func (c *Bitmap) MarkCovered(r Range) {
	if r.End < r.Start {
		return
	}
	c.rb.AddRange(uint64(r.Start), uint64(r.End)+1)
}

// Cardinality is the count of set positions.
func (c *Bitmap) Cardinality() uint64 { return c.rb.GetCardinality() }

// Clone returns an independent copy.
func (c *Bitmap) Clone() *Bitmap { return &Bitmap{rb: c.rb.Clone()} }

// Or merges other into this bitmap in place (the "OR-merge" of spec.md
// §4.1 apply_slice_result).
func (c *Bitmap) Or(other *Bitmap) { c.rb.Or(other.rb) }

// MissingIn returns the maximal contiguous sub-ranges of [r.Start, r.End]
// that are NOT covered — the primary Planner input (spec.md §4.2).
func (c *Bitmap) MissingIn(r Range) []Range {
	if r.End < r.Start {
		return nil
	}
	var out []Range
	var runStart int64 = -1
	for i := r.Start; i <= r.End; i++ {
		if c.rb.Contains(uint32ClampCheck(i)) {
			if runStart >= 0 {
				out = append(out, Range{Start: runStart, End: i - 1})
				runStart = -1
			}
			continue
		}
		if runStart < 0 {
			runStart = i
		}
	}
	if runStart >= 0 {
		out = append(out, Range{Start: runStart, End: r.End})
	}
	return out
}

// LongestZeroFreePrefixEnd returns the position one past the end of the
// longest unbroken run of set bits starting at position 0 — i.e. the
// position the watermark must correspond to (spec.md §4.4 step 3, §8
// "watermark = longest zero-free prefix" rule). Returns 0 if position 0
// itself is unset.
func (c *Bitmap) LongestZeroFreePrefixEnd() int64 {
	var i int64
	for c.rb.Contains(uint32ClampCheck(i)) {
		i++
	}
	return i
}

// SubtractRanges removes the given open (queued/leased) ranges from a set
// of candidate ranges, returning the residual missing ranges (spec.md §4.3
// gap detection: "subtract any already-open gap ranges").
func SubtractRanges(candidates, open []Range) []Range {
	if len(open) == 0 {
		return candidates
	}
	sorted := append([]Range(nil), open...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []Range
	for _, cand := range candidates {
		pieces := []Range{cand}
		for _, o := range sorted {
			var next []Range
			for _, p := range pieces {
				if o.End < p.Start || o.Start > p.End {
					next = append(next, p)
					continue
				}
				if o.Start > p.Start {
					next = append(next, Range{Start: p.Start, End: o.Start - 1})
				}
				if o.End < p.End {
					next = append(next, Range{Start: o.End + 1, End: p.End})
				}
			}
			pieces = next
		}
		out = append(out, pieces...)
	}
	return out
}

func uint32ClampCheck(i int64) uint32 {
	if i < 0 || i > int64(^uint32(0)) {
		panic(fmt.Sprintf("coverage: grid position %d out of uint32 range", i))
	}
	return uint32(i)
}
