package ml

import (
	"errors"
	"math"
	"math/rand"
)

// ClipToRealisticRanges pulls generated values back into plausible clinical ranges.
func ClipToRealisticRanges(f Features) Features {
	f.Glucose = clip(f.Glucose, 60, 250)
	f.BloodPressure = clip(f.BloodPressure, 50, 120)
	f.BMI = clip(f.BMI, 15, 50)
	return f
}

// Split holds the train and evaluation partitions of a dataset.
type Split struct {
	TrainX [][]float64
	TrainY []int
	TestX  [][]float64
	TestY  []int
}

// StratifiedSplit holds out testRatio of every class, so both partitions keep
// the label balance of the input. The same seed always yields the same split.
func StratifiedSplit(features [][]float64, labels []int, testRatio float64, seed int64) (*Split, error) {
	if len(features) != len(labels) {
		return nil, errors.New("features and labels size mismatch")
	}
	if len(labels) < 2 {
		return nil, errors.New("need at least two samples to split")
	}
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}

	byClass := make(map[int][]int)
	classes := make([]int, 0, NumClasses)
	for i, label := range labels {
		if _, ok := byClass[label]; !ok {
			classes = append(classes, label)
		}
		byClass[label] = append(byClass[label], i)
	}

	rng := rand.New(rand.NewSource(seed))
	var trainIdx, testIdx []int
	for _, class := range classes {
		members := byClass[class]
		rng.Shuffle(len(members), func(a, b int) { members[a], members[b] = members[b], members[a] })
		nTest := int(math.Round(float64(len(members)) * testRatio))
		if nTest >= len(members) {
			nTest = len(members) - 1
		}
		testIdx = append(testIdx, members[:nTest]...)
		trainIdx = append(trainIdx, members[nTest:]...)
	}
	rng.Shuffle(len(trainIdx), func(a, b int) { trainIdx[a], trainIdx[b] = trainIdx[b], trainIdx[a] })
	rng.Shuffle(len(testIdx), func(a, b int) { testIdx[a], testIdx[b] = testIdx[b], testIdx[a] })

	split := &Split{}
	for _, i := range trainIdx {
		split.TrainX = append(split.TrainX, features[i])
		split.TrainY = append(split.TrainY, labels[i])
	}
	for _, i := range testIdx {
		split.TestX = append(split.TestX, features[i])
		split.TestY = append(split.TestY, labels[i])
	}
	if len(split.TestX) == 0 {
		return nil, errors.New("test partition is empty")
	}
	return split, nil
}

func clip(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
