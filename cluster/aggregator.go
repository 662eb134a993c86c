package cluster

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-nabu/training"
)

// ClipValue bounds every gradient component before it is applied
const ClipValue = 1.0

// ApplyFunc applies aggregated gradients at step and closes the step
type ApplyFunc func(step uint64, grads training.Gradients) (training.Update, error)

// contribution is one replica's gradients for a step
type contribution struct {
	replica string
	grads   training.Gradients
}

// round collects the contributions for one step in arrival order
type round struct {
	step          uint64
	contributions []contribution
	done          chan struct{}
	update        training.Update
	err           error
}

// add records the gradients of replica. A replica that contributes twice to
// the same step keeps its place and its latest gradients.
func (r *round) add(replica string, grads training.Gradients) {
	for i := range r.contributions {
		if r.contributions[i].replica == replica {
			r.contributions[i].grads = grads
			return
		}
	}
	r.contributions = append(r.contributions, contribution{replica: replica, grads: grads})
}

func (r *round) gradients() []training.Gradients {
	grads := make([]training.Gradients, len(r.contributions))
	for i, c := range r.contributions {
		grads[i] = c.grads
	}
	return grads
}

// Aggregator synchronizes gradient submissions. With a target of zero every
// submission is applied on its own. Otherwise each step collects one
// contribution per replica until target replicas have contributed. The
// submission that completes the step applies the average on behalf of the
// chief and wakes the replicas waiting on the step. Later submissions for
// that step are stale.
type Aggregator struct {
	mu     sync.Mutex
	target int
	store  *Store
	apply  ApplyFunc
	round  *round
}

// NewAggregator creates an aggregator that reads the open step from store
func NewAggregator(target int, store *Store, apply ApplyFunc) *Aggregator {
	if target < 0 {
		target = 0
	}
	return &Aggregator{
		target: target,
		store:  store,
		apply:  apply,
	}
}

// Target returns the number of contributions aggregated per step
func (a *Aggregator) Target() int {
	return a.target
}

// Submit contributes grads computed at step by replica and blocks until the
// step is applied. It returns training.ErrStaleStep when step is no longer
// open.
func (a *Aggregator) Submit(ctx context.Context, replica string, step uint64, grads training.Gradients) (training.Update, error) {
	a.mu.Lock()

	if open := a.store.GlobalStep(); step != open {
		a.mu.Unlock()
		return training.Update{}, fmt.Errorf("%w: submitted %d, open %d", training.ErrStaleStep, step, open)
	}

	if a.target == 0 {
		defer a.mu.Unlock()
		return a.apply(step, ClipGradients(grads, ClipValue))
	}

	r := a.round
	if r == nil || r.step != step {
		r = &round{
			step: step,
			done: make(chan struct{}),
		}
		a.round = r
	}
	if len(r.contributions) >= a.target {
		a.mu.Unlock()
		return training.Update{}, fmt.Errorf("%w: step %d already has %d contributions", training.ErrStaleStep, step, a.target)
	}
	r.add(replica, grads.Clone())

	if len(r.contributions) == a.target {
		defer a.mu.Unlock()
		a.flush(r)
		return r.update, r.err
	}
	a.mu.Unlock()

	select {
	case <-r.done:
		return r.update, r.err
	case <-ctx.Done():
		return training.Update{}, ctx.Err()
	}
}

// flush applies the average of a complete round and closes it. It must be
// called with mu held.
func (a *Aggregator) flush(r *round) {
	averaged, err := AverageGradients(r.gradients())
	if err != nil {
		r.err = err
	} else {
		r.update, r.err = a.apply(r.step, ClipGradients(averaged, ClipValue))
	}
	a.round = nil
	close(r.done)
}

// AverageGradients returns the element-wise mean of several gradient sets.
// Every set must name the same parameters with the same sizes.
func AverageGradients(sets []training.Gradients) (training.Gradients, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("no gradients to average")
	}

	averaged := sets[0].Clone()
	for _, set := range sets[1:] {
		if len(set) != len(averaged) {
			return nil, fmt.Errorf("gradient sets name %d and %d parameters", len(averaged), len(set))
		}
		for name, sum := range averaged {
			grad, ok := set[name]
			if !ok {
				return nil, fmt.Errorf("gradient for %s missing from a contribution", name)
			}
			if len(grad) != len(sum) {
				return nil, fmt.Errorf("gradient size mismatch for %s: %d vs %d", name, len(sum), len(grad))
			}
			floats.Add(sum, grad)
		}
	}

	scale := 1 / float64(len(sets))
	for _, sum := range averaged {
		floats.Scale(scale, sum)
	}
	return averaged, nil
}

// ClipGradients returns a copy of grads with every component bounded to
// [-limit, limit]
func ClipGradients(grads training.Gradients, limit float64) training.Gradients {
	clipped := grads.Clone()
	for _, grad := range clipped {
		for i, v := range grad {
			grad[i] = max(-limit, min(limit, v))
		}
	}
	return clipped
}
