package fake

import (
	"context"
	"sync"
)

// FakeClient is an in-memory registry for local runs and tests.
type FakeClient struct {
	mu    sync.RWMutex
	known map[string]struct{}
	calls int
}

func New(sadNos ...string) *FakeClient {
	f := &FakeClient{known: make(map[string]struct{}, len(sadNos))}
	for _, no := range sadNos {
		f.known[no] = struct{}{}
	}
	return f
}

func (f *FakeClient) Register(sadNo string) {
	f.mu.Lock()
	f.known[sadNo] = struct{}{}
	f.mu.Unlock()
}

func (f *FakeClient) Deregister(sadNo string) {
	f.mu.Lock()
	delete(f.known, sadNo)
	f.mu.Unlock()
}

// Calls is the number of lookups served so far.
func (f *FakeClient) Calls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls
}

func (f *FakeClient) ExistingSADs(ctx context.Context, sadNos []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	out := make([]string, 0, len(sadNos))
	for _, no := range sadNos {
		if _, ok := f.known[no]; ok {
			out = append(out, no)
		}
	}
	return out, nil
}
