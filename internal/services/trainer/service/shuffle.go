package service

import (
	"math/rand"

	"vesselclass/internal/services/trainer/domain"
)

// shuffleBatches consumes examples from in and emits fixed-size batches drawn
// uniformly at random from a bounded buffer. Draws only start once the buffer
// holds more than minAfterDequeue examples, so early batches already mix
// vessels from many readers; when in closes, the remaining buffer is drained.
// Stops when emit returns a non-nil error and returns it
func shuffleBatches(
	rng *rand.Rand,
	in <-chan domain.Example,
	batchSize, capacity, minAfterDequeue int,
	emit func(domain.Batch) error,
) error {
	buf := make([]domain.Example, 0, capacity)
	closed := false

	fill := func(target int) {
		if target > capacity {
			target = capacity
		}
		for !closed && len(buf) < target {
			e, ok := <-in
			if !ok {
				closed = true
				return
			}
			buf = append(buf, e)
		}
	}

	for {
		fill(minAfterDequeue + batchSize)

		if len(buf) == 0 {
			return nil
		}

		var batch domain.Batch
		for batch.Len() < batchSize && len(buf) > 0 {
			if !closed && len(buf) <= minAfterDequeue {
				fill(minAfterDequeue + 1)
			}
			i := rng.Intn(len(buf))
			batch.Append(buf[i])
			buf[i] = buf[len(buf)-1]
			buf = buf[:len(buf)-1]
		}

		if err := emit(batch); err != nil {
			return err
		}
	}
}
