// Package storetest provides Store wrappers for exercising failure paths.
package storetest

import (
	"context"
	"strings"
	"sync"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/persistence"
)

// Op names a store operation a fault can target
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpDelete Op = "delete"
	OpQuery  Op = "query"
)

type fault struct {
	op     Op
	prefix string
	err    error
	// remaining is the number of calls still to fail; negative fails forever
	remaining int
}

// FaultStore wraps a Store and fails matching calls with injected errors.
// SetIfVersion counts as OpSet.
type FaultStore struct {
	persistence.Store

	mu     sync.Mutex
	faults []*fault
	calls  map[Op]int
	// beforeWrite runs before every Set/SetIfVersion reaches the inner store
	beforeWrite func(path string)
}

// Wrap returns a FaultStore over inner
func Wrap(inner persistence.Store) *FaultStore {
	return &FaultStore{Store: inner, calls: make(map[Op]int)}
}

// Fail makes every op on a path starting with prefix return err
func (s *FaultStore) Fail(op Op, prefix string, err error) *FaultStore {
	return s.FailTimes(op, prefix, err, -1)
}

// FailTimes makes the next n matching calls return err
func (s *FaultStore) FailTimes(op Op, prefix string, err error, n int) *FaultStore {
	if err == nil {
		err = shared.NewStoreError(string(op), prefix, context.DeadlineExceeded)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{op: op, prefix: prefix, err: err, remaining: n})
	return s
}

// BeforeWrite registers fn to run before each write is forwarded
func (s *FaultStore) BeforeWrite(fn func(path string)) *FaultStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeWrite = fn
	return s
}

// Reset removes all faults and hooks
func (s *FaultStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
	s.beforeWrite = nil
}

// Calls returns how many times op was invoked, failed or not
func (s *FaultStore) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *FaultStore) check(op Op, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	for _, f := range s.faults {
		if f.op != op || !strings.HasPrefix(path, f.prefix) || f.remaining == 0 {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
		}
		return f.err
	}
	return nil
}

func (s *FaultStore) hook(path string) {
	s.mu.Lock()
	fn := s.beforeWrite
	s.mu.Unlock()
	if fn != nil {
		fn(path)
	}
}

func (s *FaultStore) Get(ctx context.Context, path string) (*persistence.Snapshot, error) {
	if err := s.check(OpGet, path); err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, path)
}

func (s *FaultStore) Set(ctx context.Context, path string, data persistence.Document, opts ...persistence.SetOption) error {
	if err := s.check(OpSet, path); err != nil {
		return err
	}
	s.hook(path)
	return s.Store.Set(ctx, path, data, opts...)
}

func (s *FaultStore) SetIfVersion(ctx context.Context, path string, data persistence.Document, version int64, opts ...persistence.SetOption) error {
	if err := s.check(OpSet, path); err != nil {
		return err
	}
	s.hook(path)
	return s.Store.SetIfVersion(ctx, path, data, version, opts...)
}

func (s *FaultStore) Delete(ctx context.Context, path string) error {
	if err := s.check(OpDelete, path); err != nil {
		return err
	}
	return s.Store.Delete(ctx, path)
}

func (s *FaultStore) Query(ctx context.Context, collectionPath string, q persistence.Query) ([]persistence.Snapshot, error) {
	if err := s.check(OpQuery, collectionPath); err != nil {
		return nil, err
	}
	return s.Store.Query(ctx, collectionPath, q)
}
