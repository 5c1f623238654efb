package algorithm

import (
	"fmt"
	"math/rand/v2"

	"github.com/zjrosen/sortpool/internal/protocol"
)

// Pivot strategies accepted by quickSort's "pivot" option.
const (
	PivotFirst  = "first"
	PivotLast   = "last"
	PivotMiddle = "middle"
	PivotRandom = "random"
)

// QuickSort is a Lomuto-partition quicksort. Its unit of work is one element
// reaching its final position: each partition settles its pivot, and ranges
// of length <= 1 settle as they are reached, so the total is exactly n.
//
// Options: "pivot" (first|last|middle|random, default last) and "seed" for a
// reproducible random pivot.
func QuickSort() Algorithm {
	return Algorithm{
		Name:         "quickSort",
		Stable:       false,
		Summary:      "Partitions around a pivot and recurses. O(n log n) average, O(n²) worst case.",
		Description:  quickSortDoc,
		Work:         func(n int) int64 { return int64(n) },
		CheckOptions: checkQuickOptions,
		Sort:         quickSort,
	}
}

func checkQuickOptions(opts protocol.Options) error {
	if v, ok := opts["pivot"]; ok {
		if _, isString := v.(string); !isString {
			return fmt.Errorf("%w: quickSort pivot must be a string, got %T", ErrInvalidOptions, v)
		}
	}
	switch p := opts.String("pivot", PivotLast); p {
	case PivotFirst, PivotLast, PivotMiddle, PivotRandom:
		return nil
	default:
		return fmt.Errorf("%w: quickSort pivot %q (want first, last, middle or random)", ErrInvalidOptions, p)
	}
}

type quickSorter struct {
	data  []protocol.Element
	pivot string
	rng   *rand.Rand
	t     *Tracker
}

func quickSort(data []protocol.Element, opts protocol.Options, t *Tracker) error {
	if err := checkQuickOptions(opts); err != nil {
		return err
	}
	q := &quickSorter{
		data:  data,
		pivot: opts.String("pivot", PivotLast),
		t:     t,
	}
	if q.pivot == PivotRandom {
		if seed, ok := opts["seed"]; ok && seed != nil {
			s := uint64(opts.Int("seed", 0))
			q.rng = rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
		} else {
			q.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}
	return q.sort(0, len(data)-1)
}

// sort handles [lo, hi]. It recurses into the smaller side and loops on the
// larger one, bounding stack depth at O(log n).
func (q *quickSorter) sort(lo, hi int) error {
	for lo < hi {
		p, err := q.partition(lo, hi)
		if err != nil {
			return err
		}
		if err := q.t.Advance(1); err != nil {
			return err
		}
		if p-lo < hi-p {
			if err := q.sort(lo, p-1); err != nil {
				return err
			}
			lo = p + 1
		} else {
			if err := q.sort(p+1, hi); err != nil {
				return err
			}
			hi = p - 1
		}
	}
	// A single remaining element is already in place.
	if lo == hi {
		return q.t.Advance(1)
	}
	return nil
}

func (q *quickSorter) choosePivot(lo, hi int) int {
	switch q.pivot {
	case PivotFirst:
		return lo
	case PivotMiddle:
		return lo + (hi-lo)/2
	case PivotRandom:
		return lo + q.rng.IntN(hi-lo+1)
	default:
		return hi
	}
}

func (q *quickSorter) swap(i, j int) {
	if i == j {
		return
	}
	q.data[i], q.data[j] = q.data[j], q.data[i]
	q.t.Swap()
}

func (q *quickSorter) partition(lo, hi int) (int, error) {
	q.swap(q.choosePivot(lo, hi), hi)
	pivot := q.data[hi]

	i := lo
	for j := lo; j < hi; j++ {
		if q.t.Less(q.data[j], pivot) {
			q.swap(i, j)
			i++
		}
	}
	q.swap(i, hi)
	return i, q.t.Err()
}
