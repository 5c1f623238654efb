package algorithm

import "github.com/zjrosen/sortpool/internal/protocol"

// BubbleSort is the reference algorithm. Its unit of work is one comparison
// out of n(n-1)/2; an early exit on a pass without swaps leaves the estimate
// short and the runtime's final report closes the gap.
func BubbleSort() Algorithm {
	return Algorithm{
		Name:        "bubbleSort",
		Stable:      true,
		Summary:     "Repeatedly swaps adjacent out-of-order pairs. O(n²).",
		Description: bubbleSortDoc,
		Work:        pairCount,
		Sort:        bubbleSort,
	}
}

func bubbleSort(data []protocol.Element, _ protocol.Options, t *Tracker) error {
	n := len(data)
	for i := 0; i < n-1; i++ {
		swapped := false
		for j := 0; j < n-1-i; j++ {
			if t.Less(data[j+1], data[j]) {
				data[j], data[j+1] = data[j+1], data[j]
				t.Swap()
				swapped = true
			}
			if err := t.Advance(1); err != nil {
				return err
			}
		}
		if !swapped {
			break
		}
	}
	return nil
}

// pairCount is n(n-1)/2, the comparison budget of the quadratic sorts.
func pairCount(n int) int64 {
	if n < 2 {
		return 0
	}
	return int64(n) * int64(n-1) / 2
}
