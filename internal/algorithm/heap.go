package algorithm

import "github.com/zjrosen/sortpool/internal/protocol"

// HeapSort's unit of work is one sift-down: n/2 while building the max-heap
// and n-1 while extracting.
func HeapSort() Algorithm {
	return Algorithm{
		Name:        "heapSort",
		Stable:      false,
		Summary:     "Builds a max-heap then repeatedly extracts the maximum. O(n log n), in place.",
		Description: heapSortDoc,
		Work: func(n int) int64 {
			if n < 2 {
				return 0
			}
			return int64(n/2 + n - 1)
		},
		Sort: heapSort,
	}
}

func heapSort(data []protocol.Element, _ protocol.Options, t *Tracker) error {
	n := len(data)
	if n < 2 {
		return nil
	}

	for i := n/2 - 1; i >= 0; i-- {
		siftDown(data, i, n, t)
		if err := t.Advance(1); err != nil {
			return err
		}
	}

	for end := n - 1; end > 0; end-- {
		data[0], data[end] = data[end], data[0]
		t.Swap()
		siftDown(data, 0, end, t)
		if err := t.Advance(1); err != nil {
			return err
		}
	}
	return nil
}

func siftDown(data []protocol.Element, root, end int, t *Tracker) {
	for {
		child := 2*root + 1
		if child >= end {
			return
		}
		if child+1 < end && t.Less(data[child], data[child+1]) {
			child++
		}
		if !t.Less(data[root], data[child]) {
			return
		}
		data[root], data[child] = data[child], data[root]
		t.Swap()
		root = child
	}
}
