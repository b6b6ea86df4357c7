package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// loadShards streams every shard through a pool of workers and returns the
// samples in shard order, regardless of which worker finished first.
func loadShards(parent context.Context, shards []string, numWorkers, pendingCap int) ([]Sample, error) {
	if len(shards) == 0 {
		return nil, errors.New("loader: no shards provided")
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	jobs := make(chan shardJob, numWorkers)
	cursors := make(chan shardCursor, numWorkers)

	go produceJobs(ctx, jobs, shards)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, cursors, pendingCap)
		}()
	}

	go func() {
		wg.Wait()
		close(cursors)
	}()

	return aggregate(ctx, cursors, len(shards))
}

type shardJob struct {
	id   int
	path string
}

type shardCursor struct {
	id      int
	path    string
	samples <-chan Sample
	errCh   <-chan error
}

func worker(ctx context.Context, jobs <-chan shardJob, cursors chan<- shardCursor, pendingCap int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			samples, errCh := StreamShard(ctx, job.path, pendingCap)
			cursor := shardCursor{id: job.id, path: job.path, samples: samples, errCh: errCh}
			select {
			case <-ctx.Done():
				return
			case cursors <- cursor:
			}
		}
	}
}

func aggregate(ctx context.Context, cursors <-chan shardCursor, total int) ([]Sample, error) {
	pending := make(map[int]shardCursor)
	var out []Sample
	nextID := 0
	for nextID < total {
		cursor, ok := pending[nextID]
		if !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case c, open := <-cursors:
				if !open {
					return nil, fmt.Errorf("loader: shard %d never started", nextID)
				}
				pending[c.id] = c
			}
			continue
		}

		for sample := range cursor.samples {
			out = append(out, sample)
		}
		if err := <-cursor.errCh; err != nil {
			return nil, fmt.Errorf("shard %s: %w", cursor.path, err)
		}
		delete(pending, nextID)
		nextID++
	}
	return out, nil
}

func produceJobs(ctx context.Context, jobs chan<- shardJob, shards []string) {
	defer close(jobs)
	for id, path := range shards {
		select {
		case <-ctx.Done():
			return
		case jobs <- shardJob{id: id, path: path}:
		}
	}
}
