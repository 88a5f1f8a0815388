package emailsvc

import (
	"sync"

	"github.com/trezcool/gradebook/core"
)

// failures collects the errors of concurrent sends.
type failures struct {
	mu    sync.Mutex
	n     int
	first error
}

func (f *failures) add(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.first == nil {
		f.first = err
	}
	f.n++
}

func (f *failures) err(total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		return nil
	}
	return &core.SendError{Failed: f.n, Total: total, Err: f.first}
}
