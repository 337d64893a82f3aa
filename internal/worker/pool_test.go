package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	p1 := NewPool(5)
	if p1.workers != 5 {
		t.Errorf("expected 5 workers, got %d", p1.workers)
	}

	p2 := NewPool(0)
	if p2.workers != 1 {
		t.Errorf("expected default 1 worker for 0 input, got %d", p2.workers)
	}

	p3 := NewPool(-1)
	if p3.workers != 1 {
		t.Errorf("expected default 1 worker for negative input, got %d", p3.workers)
	}
}

func TestPool_RunPreservesOrder(t *testing.T) {
	pool := NewPool(3)

	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = JobFunc(func(ctx context.Context) error {
			// later jobs finish first
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			if i%3 == 0 {
				return fmt.Errorf("job %d", i)
			}
			return nil
		})
	}

	errs := pool.Run(context.Background(), jobs)
	if len(errs) != 10 {
		t.Fatalf("expected 10 results, got %d", len(errs))
	}
	for i, err := range errs {
		if i%3 == 0 {
			if err == nil || err.Error() != fmt.Sprintf("job %d", i) {
				t.Errorf("job %d: expected its own error, got %v", i, err)
			}
		} else if err != nil {
			t.Errorf("job %d: unexpected error %v", i, err)
		}
	}
}

func TestPool_Concurrency(t *testing.T) {
	pool := NewPool(2)

	var running, peak int32
	jobs := make([]Job, 8)
	for i := range jobs {
		jobs[i] = JobFunc(func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}

	pool.Run(context.Background(), jobs)

	if peak > 2 {
		t.Errorf("expected at most 2 concurrent jobs, saw %d", peak)
	}
}

func TestPool_CanceledContext(t *testing.T) {
	pool := NewPool(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var executed int32
	jobs := []Job{
		JobFunc(func(ctx context.Context) error { atomic.AddInt32(&executed, 1); return nil }),
		JobFunc(func(ctx context.Context) error { atomic.AddInt32(&executed, 1); return nil }),
	}

	errs := pool.Run(ctx, jobs)
	for i, err := range errs {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("job %d: expected context.Canceled, got %v", i, err)
		}
	}
	if executed != 0 {
		t.Errorf("expected no job to run, %d ran", executed)
	}
}

func TestPool_Empty(t *testing.T) {
	if errs := NewPool(4).Run(context.Background(), nil); len(errs) != 0 {
		t.Errorf("expected no results, got %d", len(errs))
	}
}

func TestFirstError(t *testing.T) {
	boom := errors.New("boom")
	i, err := FirstError([]error{nil, boom, errors.New("later")})
	if i != 1 || err != boom {
		t.Errorf("expected index 1 boom, got %d %v", i, err)
	}

	i, err = FirstError([]error{nil, nil})
	if i != -1 || err != nil {
		t.Errorf("expected -1 nil, got %d %v", i, err)
	}
}
