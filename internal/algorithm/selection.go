package algorithm

import "github.com/zjrosen/sortpool/internal/protocol"

// SelectionSort always performs exactly n(n-1)/2 comparisons, so its
// comparison-based progress is exact rather than an estimate.
func SelectionSort() Algorithm {
	return Algorithm{
		Name:        "selectionSort",
		Stable:      false,
		Summary:     "Selects the minimum of the unsorted suffix each pass. O(n²), at most n-1 swaps.",
		Description: selectionSortDoc,
		Work:        pairCount,
		Sort:        selectionSort,
	}
}

func selectionSort(data []protocol.Element, _ protocol.Options, t *Tracker) error {
	n := len(data)
	for i := 0; i < n-1; i++ {
		minIdx := i
		for j := i + 1; j < n; j++ {
			if t.Less(data[j], data[minIdx]) {
				minIdx = j
			}
			if err := t.Advance(1); err != nil {
				return err
			}
		}
		if minIdx != i {
			data[i], data[minIdx] = data[minIdx], data[i]
			t.Swap()
		}
	}
	return nil
}
