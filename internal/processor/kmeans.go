package processor

import (
	"fmt"
	"math/rand"
)

// Point is a sample in a 3-dimensional colour space.
type Point [3]float64

// Clustering is the outcome of one k-means run.
type Clustering struct {
	Centroids []Point
	Labels    []int
	Sizes     []int
}

// Largest returns the index of the most populated cluster, lowest index on ties.
func (c *Clustering) Largest() int {
	best := 0
	for i, n := range c.Sizes {
		if n > c.Sizes[best] {
			best = i
		}
	}
	return best
}

// Clusterer partitions points into at most k groups.
type Clusterer interface {
	KMeans(points []Point, k int) (*Clustering, error)
}

// KMeansClusterer is Lloyd's algorithm with k-means++ seeding. A fixed Seed
// makes results reproducible for identical input.
type KMeansClusterer struct {
	Seed          int64
	MaxIterations int
}

// NewKMeansClusterer creates a clusterer with the given seed.
func NewKMeansClusterer(seed int64) *KMeansClusterer {
	return &KMeansClusterer{Seed: seed, MaxIterations: 100}
}

// KMeans clusters points. k is capped at the number of distinct seeds found,
// so degenerate inputs (e.g. a flat colour) yield fewer clusters.
func (c *KMeansClusterer) KMeans(points []Point, k int) (*Clustering, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("kmeans: no points")
	}
	if k < 1 {
		return nil, fmt.Errorf("kmeans: k must be positive, got %d", k)
	}
	if k > len(points) {
		k = len(points)
	}
	iterations := c.MaxIterations
	if iterations <= 0 {
		iterations = 100
	}

	rng := rand.New(rand.NewSource(c.Seed))
	centroids := seedCentroids(points, k, rng)

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}
	sizes := make([]int, len(centroids))

	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, p := range points {
			nearest, _ := nearestCentroid(p, centroids)
			if labels[i] != nearest {
				labels[i] = nearest
				changed = true
			}
		}

		sums := make([]Point, len(centroids))
		for i := range sizes {
			sizes[i] = 0
		}
		for i, p := range points {
			l := labels[i]
			sizes[l]++
			for d := 0; d < 3; d++ {
				sums[l][d] += p[d]
			}
		}
		for i := range centroids {
			if sizes[i] == 0 {
				continue
			}
			for d := 0; d < 3; d++ {
				centroids[i][d] = sums[i][d] / float64(sizes[i])
			}
		}

		if !changed {
			break
		}
	}

	return &Clustering{Centroids: centroids, Labels: labels, Sizes: sizes}, nil
}

func seedCentroids(points []Point, k int, rng *rand.Rand) []Point {
	centroids := make([]Point, 0, k)
	centroids = append(centroids, points[rng.Intn(len(points))])

	dist := make([]float64, len(points))
	for len(centroids) < k {
		var sum float64
		for i, p := range points {
			_, d := nearestCentroid(p, centroids)
			dist[i] = d
			sum += d
		}
		if sum == 0 {
			break
		}

		r := rng.Float64() * sum
		pick := len(points) - 1
		for i, d := range dist {
			r -= d
			if r < 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, points[pick])
	}
	return centroids
}

func nearestCentroid(p Point, centroids []Point) (int, float64) {
	best, bestDist := 0, sqDist(p, centroids[0])
	for i := 1; i < len(centroids); i++ {
		if d := sqDist(p, centroids[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

func sqDist(a, b Point) float64 {
	var s float64
	for d := 0; d < 3; d++ {
		diff := a[d] - b[d]
		s += diff * diff
	}
	return s
}
