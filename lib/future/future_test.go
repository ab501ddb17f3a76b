// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package future

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bureau-foundation/winsync/lib/testutil"
)

func TestResolveOnce(t *testing.T) {
	future := New[int]()
	if _, err := future.Peek(); !errors.Is(err, ErrPending) {
		t.Fatalf("Peek before completion = %v, want ErrPending", err)
	}
	if !future.Resolve(1) {
		t.Fatal("first Resolve reported false")
	}
	if future.Resolve(2) || future.Reject(errors.New("late")) {
		t.Fatal("second completion reported true")
	}
	value, err := future.Wait(context.Background())
	if err != nil || value != 1 {
		t.Fatalf("Wait = (%d, %v), want (1, nil)", value, err)
	}
}

func TestRejectNilError(t *testing.T) {
	future := Rejected[string](nil)
	if _, err := future.Peek(); err == nil {
		t.Fatal("Rejected(nil) produced a nil error")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New[int]().Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}

func TestThenBeforeAndAfterCompletion(t *testing.T) {
	future := New[string]()
	var order []string
	future.Then(func(value string, err error) { order = append(order, "early:"+value) })
	future.Resolve("x")
	future.Then(func(value string, err error) { order = append(order, "late:"+value) })

	if fmt.Sprint(order) != "[early:x late:x]" {
		t.Fatalf("callbacks ran as %v", order)
	}
}

func TestGoAndMap(t *testing.T) {
	doubled := Map(Go(func() (int, error) { return 21, nil }), func(value int) (int, error) {
		return value * 2, nil
	})
	testutil.RequireClosed(t, doubled.Done(), 5*time.Second, "mapped future")
	if value, err := doubled.Peek(); err != nil || value != 42 {
		t.Fatalf("Map = (%d, %v), want (42, nil)", value, err)
	}

	failure := errors.New("boom")
	mapped := Map(Rejected[int](failure), func(value int) (string, error) {
		t.Error("transform called on a rejected future")
		return "", nil
	})
	if _, err := mapped.Peek(); !errors.Is(err, failure) {
		t.Fatalf("Map of rejected = %v, want %v", err, failure)
	}
}

func TestGatherCollectsPartialFailure(t *testing.T) {
	keys := []int{1, 2, 3, 4}
	joined := Gather(keys, func(key int) *Future[string] {
		if key%2 == 0 {
			return Rejected[string](fmt.Errorf("item %d failed", key))
		}
		return Go(func() (string, error) { return fmt.Sprintf("item-%d", key), nil })
	})

	testutil.RequireClosed(t, joined.Done(), 5*time.Second, "gather")
	result, err := joined.Peek()
	if err != nil {
		t.Fatalf("Gather rejected: %v", err)
	}
	if len(result.Values) != 2 || result.Values[0].Key != 1 || result.Values[1].Value != "item-3" {
		t.Errorf("Values = %+v", result.Values)
	}
	if len(result.Failures) != 2 || result.Failures[0].Key != 2 || result.Failures[1].Key != 4 {
		t.Errorf("Failures = %+v", result.Failures)
	}
}

func TestGatherEmpty(t *testing.T) {
	joined := Gather([]string(nil), func(string) *Future[int] { return Resolved(0) })
	testutil.RequireClosed(t, joined.Done(), 5*time.Second, "empty gather")
}
