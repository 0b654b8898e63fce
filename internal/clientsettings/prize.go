package clientsettings

import (
	"math/rand"
	"sort"
)

// PWPS is the 29-entry running-sum table over PrizeWeightSettings
// (spec §4.6 GLOSSARY): PWPS[i] = sum of weights[0..i-1].
type PWPS [numPrizeWeights + 1]uint32

// ComputePWPS builds the prefix-sum table from a 28-entry weight
// array.
func ComputePWPS(weights [numPrizeWeights]byte) PWPS {
	var pwps PWPS
	var sum uint32
	for i := 0; i < numPrizeWeights; i++ {
		pwps[i] = sum
		sum += uint32(weights[i])
	}
	pwps[numPrizeWeights] = sum
	return pwps
}

// GetRandomPrize weighted-samples a prize index in O(log 28) using
// pwps (spec §4.6): index i is returned with probability
// (pwps[i+1]-pwps[i])/pwps[28], i.e. weights[i] over the total.
// Returns -1 if every weight is zero, and also for a sample that falls
// at or below pwps[0] (non-zero only when LoadPWPS adds a NullPrize
// weight).
func GetRandomPrize(pwps PWPS) int {
	total := pwps[numPrizeWeights]
	if total == 0 {
		return -1
	}
	r := uint32(rand.Int63n(int64(total))) + 1
	i := sort.Search(numPrizeWeights+1, func(i int) bool { return pwps[i] >= r })
	return i - 1
}
