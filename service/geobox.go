package service

import (
	"math"
	"sync"

	"runwithmate/entities"

	"golang.org/x/exp/rand"
)

// Intner is the part of a random source box generation draws from.
type Intner interface {
	Intn(n int) int
}

// BoxSpec is the spawn geometry: offsets are multiples of Step strictly below Range.
type BoxSpec struct {
	Range  float64
	Step   float64
	Amount int64
}

// GenerateBoxes places count boxes around anchor with ids startID, startID+1, ...
// Each axis gets an independent offset sign*k*Step with k uniform in [0, Range/Step).
func GenerateBoxes(rng Intner, spec BoxSpec, boxType entities.BoxType, count int, anchor entities.Position, startID int64) []entities.Box {
	maxCount := int(math.Floor(spec.Range/spec.Step + 1e-9))
	if maxCount < 1 {
		maxCount = 1
	}
	boxes := make([]entities.Box, 0, count)
	for i := 0; i < count; i++ {
		latOffset := randomOffset(rng, maxCount, spec.Step)
		lngOffset := randomOffset(rng, maxCount, spec.Step)
		boxes = append(boxes, entities.Box{
			ID:      startID + int64(i),
			BoxType: boxType,
			Lat:     anchor.Lat + latOffset,
			Lng:     anchor.Lng + lngOffset,
			Amount:  spec.Amount,
		})
	}
	return boxes
}

func randomOffset(rng Intner, maxCount int, step float64) float64 {
	sign := 1.0
	if rng.Intn(2) == 1 {
		sign = -1
	}
	return sign * float64(rng.Intn(maxCount)) * step
}

// BoxGenerator serialises access to one shared random source.
type BoxGenerator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	spec BoxSpec
}

func NewBoxGenerator(spec BoxSpec, seed uint64) *BoxGenerator {
	return &BoxGenerator{
		rng:  rand.New(rand.NewSource(seed)),
		spec: spec,
	}
}

func (g *BoxGenerator) Generate(boxType entities.BoxType, count int, anchor entities.Position, startID int64) []entities.Box {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GenerateBoxes(g.rng, g.spec, boxType, count, anchor, startID)
}
