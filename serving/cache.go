package serving

import (
	"diabetesapi/ml"
	lru "github.com/hashicorp/golang-lru/v2"
)

type inference struct {
	label      int
	confidence float64
}

// inferenceCache memoizes classifier output per feature vector. The loaded
// model never changes, so entries never go stale. A nil cache is disabled.
type inferenceCache struct {
	entries *lru.Cache[[ml.NumFeatures]float64, inference]
}

func newInferenceCache(size int) (*inferenceCache, error) {
	if size <= 0 {
		return nil, nil
	}
	entries, err := lru.New[[ml.NumFeatures]float64, inference](size)
	if err != nil {
		return nil, err
	}
	return &inferenceCache{entries: entries}, nil
}

func (c *inferenceCache) get(key [ml.NumFeatures]float64) (inference, bool) {
	if c == nil {
		return inference{}, false
	}
	return c.entries.Get(key)
}

func (c *inferenceCache) add(key [ml.NumFeatures]float64, value inference) {
	if c == nil {
		return
	}
	c.entries.Add(key, value)
}

func (c *inferenceCache) len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
