package algorithm

import "github.com/zjrosen/sortpool/internal/protocol"

// InsertionSort's unit of work is one element inserted into the sorted prefix.
func InsertionSort() Algorithm {
	return Algorithm{
		Name:        "insertionSort",
		Stable:      true,
		Summary:     "Grows a sorted prefix one element at a time. O(n²), fast on nearly sorted input.",
		Description: insertionSortDoc,
		Work: func(n int) int64 {
			if n < 2 {
				return 0
			}
			return int64(n - 1)
		},
		Sort: insertionSort,
	}
}

// shiftCheckInterval is how many shifts an insertion makes between
// cancellation checks. A single insertion can shift the whole prefix.
const shiftCheckInterval = 4096

func insertionSort(data []protocol.Element, _ protocol.Options, t *Tracker) error {
	var shifts int
	for i := 1; i < len(data); i++ {
		cur := data[i]
		j := i - 1
		for j >= 0 && t.Less(cur, data[j]) {
			data[j+1] = data[j]
			t.Swap()
			j--
			if shifts++; shifts%shiftCheckInterval == 0 {
				if err := t.Err(); err != nil {
					data[j+1] = cur
					return err
				}
			}
		}
		data[j+1] = cur
		if err := t.Advance(1); err != nil {
			return err
		}
	}
	return nil
}
