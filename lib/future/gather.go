// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package future

import (
	"context"
	"sync"
)

// Outcome is the result of one gathered item.
type Outcome[K comparable, T any] struct {
	Key   K
	Value T
	Err   error
}

// Gathered is the joined result of [Gather]: successes in input order,
// and failures in input order. A failed item never prevents the others
// from being collected.
type Gathered[K comparable, T any] struct {
	Values   []Outcome[K, T]
	Failures []Outcome[K, T]
}

// Gather starts start(key) for every key concurrently and returns a
// future that resolves once all of them have completed. The returned
// future never rejects: per-item failures are reported in
// [Gathered.Failures] for the caller to log or retry.
func Gather[K comparable, T any](keys []K, start func(K) *Future[T]) *Future[Gathered[K, T]] {
	joined := New[Gathered[K, T]]()
	outcomes := make([]Outcome[K, T], len(keys))

	var waitGroup sync.WaitGroup
	waitGroup.Add(len(keys))
	for index, key := range keys {
		go func() {
			defer waitGroup.Done()
			value, err := start(key).Wait(context.Background())
			outcomes[index] = Outcome[K, T]{Key: key, Value: value, Err: err}
		}()
	}

	go func() {
		waitGroup.Wait()
		var result Gathered[K, T]
		for _, outcome := range outcomes {
			if outcome.Err != nil {
				result.Failures = append(result.Failures, outcome)
			} else {
				result.Values = append(result.Values, outcome)
			}
		}
		joined.Resolve(result)
	}()
	return joined
}
