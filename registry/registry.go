// Package registry keeps the latest reading per device in fixed-size tables.
package registry

import (
	"errors"
	"sync"
	"time"
)

var ErrFull = errors.New("registry full")

// Entry is one slot of a table. A slot with an empty ID is free.
type Entry[T any] struct {
	ID      string
	Reading T

	// Updated is set on every write and cleared once the reading is pushed.
	Updated    bool
	UpdatedAt  time.Time
	PushedAt   time.Time
}

// Table holds up to a fixed number of entries. New ids claim the first free slot;
// when no slot is free the id is rejected, existing entries are never evicted.
//
// Access is serialized with a mutex since the HTTP handlers read the tables
// while the scan loop writes them.
type Table[T any] struct {
	Name string

	mu      sync.Mutex
	slots   []Entry[T]
	created time.Time
	now     func() time.Time
}

func NewTable[T any](name string, capacity int) *Table[T] {
	return NewTableWithClock[T](name, capacity, time.Now)
}

func NewTableWithClock[T any](name string, capacity int, now func() time.Time) *Table[T] {
	if capacity <= 0 {
		panic("registry: table capacity must be positive")
	}

	return &Table[T]{
		Name:    name,
		slots:   make([]Entry[T], capacity),
		created: now(),
		now:     now,
	}
}

func (t *Table[T]) Capacity() int {
	return len(t.slots)
}

func (t *Table[T]) findOrAllocate(id string) (int, error) {
	free := -1

	for i := range t.slots {
		if t.slots[i].ID == id {
			return i, nil
		}

		if free < 0 && t.slots[i].ID == "" {
			free = i
		}
	}

	if free < 0 {
		return -1, ErrFull
	}

	return free, nil
}

// FindOrAllocate returns the slot owned by id or, failing that, the first free slot.
// The slot is only claimed by a subsequent Put.
func (t *Table[T]) FindOrAllocate(id string) (int, error) {
	if id == "" {
		return -1, errors.New("registry: empty id")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.findOrAllocate(id)
}

// Get returns a copy of the entry at idx.
func (t *Table[T]) Get(idx int) Entry[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.slots[idx]
}

// Put stores the reading for id and marks it updated.
func (t *Table[T]) Put(id string, reading T) (int, error) {
	if id == "" {
		return -1, errors.New("registry: empty id")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx, err := t.findOrAllocate(id)
	if err != nil {
		return idx, err
	}

	slot := &t.slots[idx]
	slot.ID = id
	slot.Reading = reading
	slot.Updated = true
	slot.UpdatedAt = t.now()

	return idx, nil
}

// MarkPushed clears the updated flag of the slot and records the push time.
func (t *Table[T]) MarkPushed(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slots[idx].Updated = false
	t.slots[idx].PushedAt = t.now()
}

// ResetUpdated clears the updated flag of every slot. Readings that were not
// pushed yet are not pushed until they are written again.
func (t *Table[T]) ResetUpdated() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		t.slots[i].Updated = false
	}
}

// Occupied returns copies of the occupied slots in slot order.
func (t *Table[T]) Occupied() []Entry[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry[T]

	for _, e := range t.slots {
		if e.ID != "" {
			out = append(out, e)
		}
	}

	return out
}

func (t *Table[T]) age(since time.Time) time.Duration {
	if since.IsZero() {
		since = t.created
	}

	d := t.now().Sub(since)

	if d < 0 {
		return 0
	}

	return d
}

// UpdateAge is the time since the entry was last written.
func (t *Table[T]) UpdateAge(e Entry[T]) time.Duration {
	return t.age(e.UpdatedAt)
}

// PushAge is the time since the entry was last pushed, or since the table was
// created if it never was.
func (t *Table[T]) PushAge(e Entry[T]) time.Duration {
	return t.age(e.PushedAt)
}
