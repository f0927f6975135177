// Package duptrack implements the small quorum-counting structure the
// replica engine uses to deduplicate per-view messages from its peers and
// tally how many distinct senders have contributed to a given view.
//
// This is a Go-idiomatic rewrite of the original source's trackDups
// struct (core/core.hpp): rather than using sentinel integers (-1 for
// "empty" StartViewChange/DoViewChange slots, -2 for PrepareResponse/
// StartViewResponse slots) it uses an explicit bool per slot, removing
// any reliance on a sentinel never colliding with a real view number.
package duptrack

import "github.com/pkg/errors"

// Tracker records, for up to capacity distinct views, which senders have
// contributed a mark for that view. Each sender occupies at most one slot
// at a time; marking a sender for a new view migrates it out of whatever
// slot it previously held.
type Tracker struct {
	capacity int
	occupied []bool
	view     []uint32
	marks    [][]bool // marks[slot][sender]
}

// New creates a Tracker with room for `capacity` distinct in-flight views,
// each tracking marks from up to `capacity` senders. capacity is normally
// set to the replica count: at most n distinct views can be in flight
// across n senders at once.
func New(capacity int) *Tracker {
	if capacity <= 0 {
		panic("duptrack: capacity must be positive")
	}
	t := &Tracker{
		capacity: capacity,
		occupied: make([]bool, capacity),
		view:     make([]uint32, capacity),
		marks:    make([][]bool, capacity),
	}
	for i := range t.marks {
		t.marks[i] = make([]bool, capacity)
	}
	return t
}

// findSenderSlot returns the slot sender currently holds a mark in, or -1.
func (t *Tracker) findSenderSlot(sender int) int {
	for slot := 0; slot < t.capacity; slot++ {
		if t.occupied[slot] && t.marks[slot][sender] {
			return slot
		}
	}
	return -1
}

// releaseIfEmpty frees slot if no sender holds a mark in it any longer.
func (t *Tracker) releaseIfEmpty(slot int) {
	for _, m := range t.marks[slot] {
		if m {
			return
		}
	}
	t.occupied[slot] = false
}

// Check records a mark from sender for view, returning whether (sender,
// view) had already been marked in its current slot and which slot it
// occupies.
//
// If sender already holds a mark for a different view, that mark is
// cleared (and the old slot released if it becomes empty) before sender
// migrates to view's slot. Panics if no free slot is available and view
// isn't already tracked — unreachable in practice, since capacity
// senders can occupy at most capacity distinct views.
func (t *Tracker) Check(sender int, view uint32) (isDuplicate bool, slot int) {
	if prev := t.findSenderSlot(sender); prev != -1 {
		if t.view[prev] == view {
			return true, prev
		}
		t.marks[prev][sender] = false
		t.releaseIfEmpty(prev)
	}

	for s := 0; s < t.capacity; s++ {
		if t.occupied[s] && t.view[s] == view {
			already := t.marks[s][sender]
			t.marks[s][sender] = true
			return already, s
		}
	}

	for s := 0; s < t.capacity; s++ {
		if !t.occupied[s] {
			t.occupied[s] = true
			t.view[s] = view
			t.marks[s][sender] = true
			return false, s
		}
	}

	panic(errors.Errorf("duptrack: no free slot for view %d among %d senders (capacity exhausted, should be unreachable)", view, t.capacity))
}

// Count returns the number of distinct senders currently marked in slot.
func (t *Tracker) Count(slot int) int {
	n := 0
	for _, m := range t.marks[slot] {
		if m {
			n++
		}
	}
	return n
}

// Clear resets one slot (or, with no argument, every slot).
func (t *Tracker) Clear(slot ...int) {
	if len(slot) == 0 {
		for s := 0; s < t.capacity; s++ {
			t.clearSlot(s)
		}
		return
	}
	t.clearSlot(slot[0])
}

func (t *Tracker) clearSlot(slot int) {
	t.occupied[slot] = false
	t.view[slot] = 0
	for i := range t.marks[slot] {
		t.marks[slot][i] = false
	}
}
