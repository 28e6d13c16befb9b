package location

import (
	"context"
	"math/rand/v2"
	"time"

	"greenbox/internal/model"
)

type (
	// Source is the device geolocation feed: a watch stream of samples.
	// Real device backends live outside this module; SimulatedSource stands
	// in for them.
	Source interface {
		// Watch invokes fn for each new sample until the returned stop
		// function is called or ctx is done.
		Watch(ctx context.Context, fn func(model.LocationSample)) (stop func(), err error)
	}

	// SimulatedSource emits a random walk around a starting position on a
	// fixed interval, the shape of a periodic/distance-triggered device
	// watch.
	SimulatedSource struct {
		Latitude  float64
		Longitude float64
		Interval  time.Duration
	}
)

func NewSimulatedSource(lat, lon float64, interval time.Duration) *SimulatedSource {
	return &SimulatedSource{
		Latitude:  lat,
		Longitude: lon,
		Interval:  interval,
	}
}

func (s *SimulatedSource) Watch(ctx context.Context, fn func(model.LocationSample)) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		lat, lon := s.Latitude, s.Longitude
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				// ~10m steps in a random direction
				lat += (rand.Float64() - 0.5) * 0.0002
				lon += (rand.Float64() - 0.5) * 0.0002

				fn(model.LocationSample{
					Latitude:  lat,
					Longitude: lon,
					Timestamp: time.Now(),
					Accuracy:  5 + rand.Float64()*20,
				})
			}
		}
	}()

	return cancel, nil
}
