// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

// MicroF1 returns the micro averaged F1 score of the predictions over the given node indices.
//
// Micro averaging counts true positives (TP), false positives (FP) and false negatives (FN) over
// all classes, and F1 = 2·TP / (2·TP + FP + FN). For single label classification every wrong
// prediction is one FP (for the predicted class) and one FN (for the true class), so the score
// equals the accuracy.
//
// It returns 0 if indices is empty.
func MicroF1(labels, predictions []int32, indices []int32) float64 {
	var tp, fp, fn int
	for _, idx := range indices {
		if predictions[idx] == labels[idx] {
			tp++
		} else {
			fp++
			fn++
		}
	}
	if tp == 0 {
		return 0
	}
	return float64(2*tp) / float64(2*tp+fp+fn)
}

// BestTracker keeps the validation accuracy of the best epoch so far, along with the test
// accuracy measured at that epoch.
//
// An epoch replaces the best only if its validation accuracy is strictly greater, so ties
// keep the earliest epoch.
type BestTracker struct {
	BestVal    float64
	TestAtBest float64

	// BestEpoch is -1 until an epoch improves over the initial validation accuracy of 0.
	BestEpoch int
}

// NewBestTracker returns a tracker with best validation accuracy 0.
func NewBestTracker() *BestTracker {
	return &BestTracker{BestEpoch: -1}
}

// Observe the accuracies of an epoch. It returns whether the epoch became the new best.
func (t *BestTracker) Observe(epoch int, val, test float64) bool {
	if val > t.BestVal {
		t.BestVal = val
		t.TestAtBest = test
		t.BestEpoch = epoch
		return true
	}
	return false
}
