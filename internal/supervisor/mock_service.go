// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"sync"
)

// MockService is a suture.Service test double that records how many times
// Serve was called and can be made to fail a fixed number of times before
// settling into "run until canceled" behavior.
type MockService struct {
	name string

	mu        sync.Mutex
	starts    int
	failCount int
	err       error
}

// NewMockService constructs a MockService with the given name.
func NewMockService(name string) *MockService {
	return &MockService{name: name}
}

// SetError makes every future Serve call return err immediately instead of
// blocking on ctx.Done().
func (s *MockService) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetFailCount makes the first n Serve calls fail with a generic error
// before Serve starts blocking on ctx.Done() as usual.
func (s *MockService) SetFailCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount = n
}

// StartCount returns how many times Serve has been invoked.
func (s *MockService) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *MockService) String() string {
	return s.name
}

// Serve implements suture.Service.
func (s *MockService) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.starts++

	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}

	if s.failCount > 0 {
		s.failCount--
		s.mu.Unlock()
		return errSimulatedFailure
	}
	s.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

var errSimulatedFailure = &mockError{"simulated failure"}

type mockError struct{ msg string }

func (e *mockError) Error() string { return e.msg }
