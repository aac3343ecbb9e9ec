package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memStore is the object table shared by every driver. Durable drivers set
// persist, which runs under the lock before a mutation is installed; a
// failed persist leaves the table unchanged.
type memStore struct {
	mu      sync.RWMutex
	objects map[DBRef]*Object
	closed  bool

	persist func(o Object) error
	// written runs under the lock once a persisted mutation is installed.
	written func()
}

// NewMemory returns a store that keeps everything in process memory.
func NewMemory() Store { return newMemStore() }

func newMemStore() *memStore {
	return &memStore{objects: map[DBRef]*Object{}}
}

func (s *memStore) read(obj DBRef, fn func(o *Object)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	o, ok := s.objects[obj]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, obj)
	}
	fn(o)
	return nil
}

func (s *memStore) update(obj DBRef, fn func(o *Object) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	o, ok := s.objects[obj]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, obj)
	}
	next := o.clone()
	if !fn(&next) {
		return nil
	}
	if s.persist != nil {
		if err := s.persist(next.clone()); err != nil {
			return err
		}
	}
	s.objects[obj] = &next
	if s.written != nil {
		s.written()
	}
	return nil
}

// load installs o without persisting it. Drivers use it while replaying.
func (s *memStore) load(o Object) {
	cp := o.clone()
	s.objects[o.Ref] = &cp
}

func (s *memStore) Get(ctx context.Context, obj DBRef) (Object, error) {
	_ = ctx
	var out Object
	err := s.read(obj, func(o *Object) { out = o.clone() })
	return out, err
}

func (s *memStore) Put(ctx context.Context, o Object) error {
	_ = ctx
	if o.Ref < 0 {
		return fmt.Errorf("put: invalid ref %d", o.Ref)
	}
	if o.Owner == Nothing && o.Player {
		o.Owner = o.Ref
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.persist != nil {
		if err := s.persist(o.clone()); err != nil {
			return err
		}
	}
	s.load(o)
	if s.written != nil {
		s.written()
	}
	return nil
}

func (s *memStore) Owner(ctx context.Context, obj DBRef) (DBRef, error) {
	_ = ctx
	owner := Nothing
	err := s.read(obj, func(o *Object) {
		owner = o.Owner
		if owner == Nothing {
			owner = o.Ref
		}
	})
	return owner, err
}

func (s *memStore) IsPlayer(ctx context.Context, obj DBRef) (bool, error) {
	_ = ctx
	var v bool
	err := s.read(obj, func(o *Object) { v = o.Player })
	return v, err
}

func (s *memStore) Privileged(ctx context.Context, obj DBRef) (bool, error) {
	_ = ctx
	var v bool
	err := s.read(obj, func(o *Object) { v = o.Privileged })
	return v, err
}

func (s *memStore) FeeExempt(ctx context.Context, obj DBRef) (bool, error) {
	_ = ctx
	var v bool
	err := s.read(obj, func(o *Object) { v = o.FeeExempt })
	return v, err
}

func (s *memStore) Money(ctx context.Context, obj DBRef) (int64, error) {
	_ = ctx
	var v int64
	err := s.read(obj, func(o *Object) { v = o.Money })
	return v, err
}

func (s *memStore) AddMoney(ctx context.Context, obj DBRef, delta int64) (bool, error) {
	_ = ctx
	ok := false
	err := s.update(obj, func(o *Object) bool {
		if delta < 0 && o.Money+delta < 0 {
			return false
		}
		o.Money += delta
		ok = true
		return delta != 0
	})
	return ok && err == nil, err
}

func (s *memStore) QueueCount(ctx context.Context, owner DBRef) (int, error) {
	_ = ctx
	var v int
	err := s.read(owner, func(o *Object) { v = o.Queue })
	return v, err
}

func (s *memStore) SetQueueCount(ctx context.Context, owner DBRef, n int) error {
	_ = ctx
	if n < 0 {
		n = 0
	}
	return s.update(owner, func(o *Object) bool {
		if o.Queue == n {
			return false
		}
		o.Queue = n
		return true
	})
}

func (s *memStore) QueueMax(ctx context.Context, owner DBRef) (int, bool, error) {
	_ = ctx
	n, ok := 0, false
	err := s.read(owner, func(o *Object) {
		if o.QueueMax != nil && *o.QueueMax >= 0 {
			n, ok = *o.QueueMax, true
		}
	})
	return n, ok, err
}

func (s *memStore) Halted(ctx context.Context, obj DBRef) (bool, error) {
	_ = ctx
	var v bool
	err := s.read(obj, func(o *Object) { v = o.Halted })
	return v, err
}

func (s *memStore) SetHalted(ctx context.Context, obj DBRef, halted bool) error {
	_ = ctx
	return s.update(obj, func(o *Object) bool {
		if o.Halted == halted {
			return false
		}
		o.Halted = halted
		return true
	})
}

func (s *memStore) AttrInt(ctx context.Context, obj DBRef, attr AttrID) (int64, error) {
	_ = ctx
	var v int64
	err := s.read(obj, func(o *Object) { v = o.Attrs[attr] })
	return v, err
}

func (s *memStore) SetAttrInt(ctx context.Context, obj DBRef, attr AttrID, v int64) error {
	_ = ctx
	if attr == 0 {
		return fmt.Errorf("set attr on %s: no attribute", obj)
	}
	return s.update(obj, func(o *Object) bool {
		if o.Attrs[attr] == v {
			return false
		}
		if v == 0 {
			delete(o.Attrs, attr)
			return true
		}
		if o.Attrs == nil {
			o.Attrs = map[AttrID]int64{}
		}
		o.Attrs[attr] = v
		return true
	})
}

func (s *memStore) AddCPU(ctx context.Context, obj DBRef, d time.Duration) error {
	_ = ctx
	if d <= 0 {
		return nil
	}
	return s.update(obj, func(o *Object) bool {
		o.CPU += d
		return true
	})
}

func (s *memStore) CPU(ctx context.Context, obj DBRef) (time.Duration, error) {
	_ = ctx
	var v time.Duration
	err := s.read(obj, func(o *Object) { v = o.CPU })
	return v, err
}

func (s *memStore) ObjectCount(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.objects), nil
}

func (s *memStore) Checkpoint(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// snapshot copies the table. Callers hold the lock.
func (s *memStore) snapshotLocked() []Object {
	out := make([]Object, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, o.clone())
	}
	return out
}
