package explain

import "sort"

// treeNode is one node of a regression tree stored in a flat slice.
// Leaves have feature == -1.
type treeNode struct {
	feature   int
	threshold float64
	left      int
	right     int
	value     float64 // mean target of the training rows reaching the node
}

type regTree struct {
	nodes []treeNode
}

type treeConfig struct {
	maxDepth    int
	minLeaf     int
	colFeatures []int // candidate split columns for this tree
}

// fitTree grows a variance-reduction regression tree on the given rows.
// x is row-major with stride d.
func fitTree(x []float64, d int, y []float64, rows []int, cfg treeConfig) *regTree {
	t := &regTree{}
	t.grow(x, d, y, rows, cfg, 0)
	return t
}

func (t *regTree) grow(x []float64, d int, y []float64, rows []int, cfg treeConfig, depth int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, treeNode{feature: -1, value: meanAt(y, rows)})

	if depth >= cfg.maxDepth || len(rows) < 2*cfg.minLeaf {
		return id
	}

	feat, thr, ok := bestSplit(x, d, y, rows, cfg)
	if !ok {
		return id
	}

	var left, right []int
	for _, r := range rows {
		if x[r*d+feat] <= thr {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) < cfg.minLeaf || len(right) < cfg.minLeaf {
		return id
	}

	t.nodes[id].feature = feat
	t.nodes[id].threshold = thr
	t.nodes[id].left = t.grow(x, d, y, left, cfg, depth+1)
	t.nodes[id].right = t.grow(x, d, y, right, cfg, depth+1)
	return id
}

// bestSplit scans every candidate feature with a sorted prefix-sum sweep
// and returns the split minimizing the weighted child variance.
func bestSplit(x []float64, d int, y []float64, rows []int, cfg treeConfig) (int, float64, bool) {
	n := len(rows)
	bestFeat, bestThr, bestScore := -1, 0.0, 0.0

	var totalSum, totalSq float64
	for _, r := range rows {
		totalSum += y[r]
		totalSq += y[r] * y[r]
	}
	parentSSE := totalSq - totalSum*totalSum/float64(n)

	order := make([]int, n)
	for _, feat := range cfg.colFeatures {
		copy(order, rows)
		sort.Slice(order, func(a, b int) bool {
			return x[order[a]*d+feat] < x[order[b]*d+feat]
		})

		var leftSum, leftSq float64
		for i := 0; i < n-1; i++ {
			r := order[i]
			leftSum += y[r]
			leftSq += y[r] * y[r]

			cur := x[r*d+feat]
			next := x[order[i+1]*d+feat]
			if cur == next {
				continue
			}
			nl := float64(i + 1)
			nr := float64(n) - nl
			if int(nl) < cfg.minLeaf || int(nr) < cfg.minLeaf {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
			gain := parentSSE - sse
			if gain > bestScore {
				bestScore = gain
				bestFeat = feat
				bestThr = (cur + next) / 2
			}
		}
	}
	if bestFeat < 0 || bestScore <= 1e-12 {
		return 0, 0, false
	}
	return bestFeat, bestThr, true
}

// predict returns the leaf value for one row.
func (t *regTree) predict(x []float64, d, row int) float64 {
	id := 0
	for t.nodes[id].feature >= 0 {
		n := t.nodes[id]
		if x[row*d+n.feature] <= n.threshold {
			id = n.left
		} else {
			id = n.right
		}
	}
	return t.nodes[id].value
}

// pathContributions walks the row's decision path and credits each split
// feature with the change in node value it caused. Adds into contrib,
// skipping columns at or beyond its length. Returns the root value.
func (t *regTree) pathContributions(x []float64, d, row int, contrib []float64) float64 {
	id := 0
	root := t.nodes[0].value
	for t.nodes[id].feature >= 0 {
		n := t.nodes[id]
		var child int
		if x[row*d+n.feature] <= n.threshold {
			child = n.left
		} else {
			child = n.right
		}
		if n.feature < len(contrib) {
			contrib[n.feature] += t.nodes[child].value - n.value
		}
		id = child
	}
	return root
}

func meanAt(y []float64, rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += y[r]
	}
	return sum / float64(len(rows))
}
