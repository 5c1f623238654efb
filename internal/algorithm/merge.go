package algorithm

import "github.com/zjrosen/sortpool/internal/protocol"

// MergeSort is a bottom-up merge sort. Its unit of work is one element
// written during a merge pass; every pass writes all n elements.
func MergeSort() Algorithm {
	return Algorithm{
		Name:        "mergeSort",
		Stable:      true,
		Summary:     "Bottom-up merging of doubling runs. O(n log n), stable, O(n) extra space.",
		Description: mergeSortDoc,
		Work: func(n int) int64 {
			return int64(n) * int64(mergePasses(n))
		},
		Sort: mergeSort,
	}
}

func mergePasses(n int) int {
	passes := 0
	for width := 1; width < n; width *= 2 {
		passes++
	}
	return passes
}

func mergeSort(data []protocol.Element, _ protocol.Options, t *Tracker) error {
	n := len(data)
	if n < 2 {
		return nil
	}

	src := data
	dst := make([]protocol.Element, n)
	for width := 1; width < n; width *= 2 {
		for lo := 0; lo < n; lo += 2 * width {
			mid := min(lo+width, n)
			hi := min(lo+2*width, n)
			if err := merge(src, dst, lo, mid, hi, t); err != nil {
				return err
			}
		}
		src, dst = dst, src
	}

	// After an odd number of passes the result lives in the scratch buffer.
	if &src[0] != &data[0] {
		copy(data, src)
	}
	return nil
}

func merge(src, dst []protocol.Element, lo, mid, hi int, t *Tracker) error {
	i, j := lo, mid
	for k := lo; k < hi; k++ {
		// Take from the left run on ties to keep the sort stable.
		if i < mid && (j >= hi || !t.Less(src[j], src[i])) {
			dst[k] = src[i]
			i++
		} else {
			dst[k] = src[j]
			j++
		}
		t.Swap()
		if err := t.Advance(1); err != nil {
			return err
		}
	}
	return nil
}
