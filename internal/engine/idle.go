package engine

import (
	"container/heap"
	"sync"
	"time"
)

type idleEntry struct {
	npcID  string
	fireAt time.Time
	index  int
}

type idleHeap []*idleEntry

func (h idleHeap) Len() int { return len(h) }

func (h idleHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].npcID < h[j].npcID
	}
	return h[i].fireAt.Before(h[j].fireAt)
}

func (h idleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *idleHeap) Push(x interface{}) {
	e := x.(*idleEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *idleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// IdleScheduler is a priority queue of (fire time, npc id). Each NPC has at most one entry.
type IdleScheduler struct {
	mu      sync.Mutex
	h       idleHeap
	entries map[string]*idleEntry
}

func NewIdleScheduler() *IdleScheduler {
	return &IdleScheduler{entries: make(map[string]*idleEntry)}
}

// Schedule sets the next fire time of an NPC, replacing any earlier entry
func (s *IdleScheduler) Schedule(npcID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[npcID]; ok {
		e.fireAt = at
		heap.Fix(&s.h, e.index)
		return
	}
	e := &idleEntry{npcID: npcID, fireAt: at}
	heap.Push(&s.h, e)
	s.entries[npcID] = e
}

// PopDue removes and returns every NPC due at or before now, earliest first
func (s *IdleScheduler) PopDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for s.h.Len() > 0 && !s.h[0].fireAt.After(now) {
		e := heap.Pop(&s.h).(*idleEntry)
		delete(s.entries, e.npcID)
		due = append(due, e.npcID)
	}
	return due
}

// Next returns the earliest fire time
func (s *IdleScheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h.Len() == 0 {
		return time.Time{}, false
	}
	return s.h[0].fireAt, true
}

func (s *IdleScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Len()
}
