package trainer

import (
	"math"
	"math/rand"
)

const (
	testFraction = 0.15
	valFraction  = 0.15
)

// Split partitions node indices into train, validation, and test sets,
// stratified by label so each split preserves the class ratio. 15% of all
// nodes go to test, then 15% of the remainder to validation.
func Split(labels []int, rng *rand.Rand) (train, val, test []int) {
	byClass := map[int][]int{}
	for i, y := range labels {
		byClass[y] = append(byClass[y], i)
	}

	classes := make([]int, 0, len(byClass))
	for y := range byClass {
		classes = append(classes, y)
	}
	// Map iteration order is random; fix it so the split is seed-stable.
	for i := 1; i < len(classes); i++ {
		for j := i; j > 0 && classes[j-1] > classes[j]; j-- {
			classes[j-1], classes[j] = classes[j], classes[j-1]
		}
	}

	for _, y := range classes {
		idx := byClass[y]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })

		nTest := holdoutSize(len(idx), testFraction)
		rest := idx[nTest:]
		nVal := holdoutSize(len(rest), valFraction)

		test = append(test, idx[:nTest]...)
		val = append(val, rest[:nVal]...)
		train = append(train, rest[nVal:]...)
	}
	return train, val, test
}

// holdoutSize rounds the fraction to a count while never consuming the
// whole class and, for classes of two or more, never leaving a split empty.
func holdoutSize(n int, frac float64) int {
	if n < 2 {
		return 0
	}
	k := int(math.Round(frac * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n-1 {
		k = n - 1
	}
	return k
}
