package algorithm

const bubbleSortDoc = `# Bubble sort

Walks the array comparing adjacent pairs and swapping those out of order.
After pass *i* the largest *i* elements sit at the end. A pass without swaps
ends the sort early.

| | |
|---|---|
| Time | O(n²) comparisons, O(n) on sorted input |
| Space | O(1) |
| Stable | yes |

**Progress** counts comparisons against the n(n-1)/2 budget.`

const insertionSortDoc = `# Insertion sort

Takes each element in turn and shifts it left into the sorted prefix.

| | |
|---|---|
| Time | O(n²), O(n) on sorted input |
| Space | O(1) |
| Stable | yes |

**Progress** counts elements inserted (n-1 in total).`

const selectionSortDoc = `# Selection sort

Finds the minimum of the unsorted suffix and swaps it into place.

| | |
|---|---|
| Time | O(n²) comparisons on every input |
| Space | O(1) |
| Stable | no |

**Progress** counts comparisons; the n(n-1)/2 budget is exact.`

const mergeSortDoc = `# Merge sort

Bottom-up: merges runs of width 1, 2, 4, ... until one run remains.

| | |
|---|---|
| Time | O(n log n) |
| Space | O(n) |
| Stable | yes |

**Progress** counts elements written; each of the ⌈log₂ n⌉ passes writes n.`

const quickSortDoc = `# Quicksort

Partitions around a pivot so smaller keys precede it, then sorts both sides.

| | |
|---|---|
| Time | O(n log n) average, O(n²) worst case |
| Space | O(log n) stack |
| Stable | no |

Options:

- ` + "`pivot`" + `: ` + "`first`, `last` (default), `middle`, `random`" + `
- ` + "`seed`" + `: makes the random pivot reproducible

**Progress** counts elements that reached their final position.`

const heapSortDoc = `# Heap sort

Builds a max-heap in place, then swaps the root to the end and restores the heap.

| | |
|---|---|
| Time | O(n log n) |
| Space | O(1) |
| Stable | no |

**Progress** counts sift-down operations (n/2 + n - 1).`
