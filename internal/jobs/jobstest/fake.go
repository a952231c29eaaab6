// Package jobstest provides an in-process jobs.Client for tests.
package jobstest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"thirdcoast.systems/allthethings/internal/jobs"
)

// Call records one DispatchAsync or RunSync invocation.
type Call struct {
	JobType     jobs.JobType
	Input       jobs.Input
	CallbackURL string
	Timeout     time.Duration
}

// Fake is a scriptable jobs.Client. Errors and outputs are configured per job
// type name.
type Fake struct {
	mu         sync.Mutex
	dispatched []Call
	synced     []Call
	seq        int

	DispatchErr map[string]error
	SyncErr     error
	SyncOutput  json.RawMessage
	// SyncHook runs before RunSync returns, e.g. to block until the deadline.
	SyncHook func(ctx context.Context)
	// DispatchHook runs before DispatchAsync returns.
	DispatchHook func(ctx context.Context)
}

var _ jobs.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{DispatchErr: map[string]error{}}
}

func (f *Fake) DispatchAsync(ctx context.Context, jobType jobs.JobType, input jobs.Input, callbackURL string) (jobs.Ticket, error) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, Call{JobType: jobType, Input: input, CallbackURL: callbackURL})
	hook, err := f.DispatchHook, f.DispatchErr[jobType.Name]
	if err == nil {
		f.seq++
	}
	ref := fmt.Sprintf("%s-%d", jobType.Name, f.seq)
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return jobs.Ticket{}, err
	}
	return jobs.Ticket{
		Ref: ref,
		Raw: json.RawMessage(fmt.Sprintf(`{"id":%q,"status":"starting"}`, ref)),
	}, nil
}

func (f *Fake) RunSync(ctx context.Context, jobType jobs.JobType, input jobs.Input, timeout time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	f.synced = append(f.synced, Call{JobType: jobType, Input: input, Timeout: timeout})
	hook, err, out := f.SyncHook, f.SyncErr, f.SyncOutput
	f.mu.Unlock()

	if hook != nil {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		hook(ctx)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dispatched returns the async calls for a job type name ("" for all).
func (f *Fake) Dispatched(name string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.dispatched {
		if name == "" || c.JobType.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) SyncCalls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.synced...)
}

// EmbeddingOutput renders a provider embedding output with dims copies of v.
func EmbeddingOutput(dims int, v float64) json.RawMessage {
	vec := make([]float64, dims)
	for i := range vec {
		vec[i] = v
	}
	b, _ := json.Marshal([]map[string]any{{"embedding": vec}})
	return b
}
