package training

import (
	randv2 "math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// newMixupSampler returns the Beta(α, α) distribution the blend weight
// of a mixed batch is drawn from.
func newMixupSampler(alpha float64, seed int64) distuv.Beta {
	return distuv.Beta{
		Alpha: alpha,
		Beta:  alpha,
		Src:   randv2.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15),
	}
}
