package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/phrazzld/bgtask/internal/taskproxy"
)

const gaussianSamplesName = "gaussian-samples"

// sampleArgs parameterizes the demo generator.
type sampleArgs struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
	Steps int     `json:"steps"`
}

// sample is one produced datum: overall progress plus a value drawn from
// N(mu, sigma^2).
type sample struct {
	Progress float64 `json:"progress"`
	Value    float64 `json:"value"`
}

// registerGenerators installs the demo generators. Must run before the
// worker dispatch in main so both parent and worker processes see them.
func registerGenerators() {
	taskproxy.Register(gaussianSamplesName, gaussianSamples)
}

// gaussianSamples incrementally yields samples from a normal distribution,
// sleeping a random slice of time between steps to mimic a slow
// computation.
func gaussianSamples(ctx context.Context, args json.RawMessage, yield func(v any) error) error {
	a := sampleArgs{Mu: 0.0, Sigma: 1.0, Steps: 100}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return fmt.Errorf("failed to decode sampling arguments: %w", err)
		}
	}

	for i := 0; i < a.Steps; i++ {
		s := sample{
			Progress: float64(i+1) / float64(a.Steps),
			Value:    a.Sigma*rand.NormFloat64() + a.Mu,
		}
		if err := yield(s); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(int64(100 * time.Millisecond)))):
		}
	}
	return nil
}
