package veracity

import (
	"context"
	"runtime"
	"sync"
)

// extractParallel is Phase B of indexFiles: a pool of min(workers, files)
// goroutines, each extracting whole files. Outcomes arrive in completion
// order; the commit phase sorts.
func (e *Engine) extractParallel(ctx context.Context, work []workItem) []fileOutcome {
	numWorkers := e.workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	numWorkers = min(numWorkers, len(work))
	if numWorkers < 1 {
		numWorkers = 1
	}

	workCh := make(chan workItem, len(work))
	for _, w := range work {
		workCh <- w
	}
	close(workCh)

	resultCh := make(chan fileOutcome, len(work))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					return
				}
				resultCh <- e.extractFile(ctx, w)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	out := make([]fileOutcome, 0, len(work))
	for res := range resultCh {
		out = append(out, res)
	}
	return out
}
