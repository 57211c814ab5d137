package eventloop

import (
	"container/heap"
	"sync"
	"time"
)

// entry is a scheduled callback. Frame callbacks carry the frame timestamp.
type entry struct {
	at    time.Time
	seq   uint64
	fn    func()
	frame FrameFunc
	id    FrameID
	index int
}

// entryQueue orders entries by due time, then by scheduling order.
type entryQueue []*entry

func (q entryQueue) Len() int { return len(q) }

func (q entryQueue) Less(i, j int) bool {
	if !q[i].at.Equal(q[j].at) {
		return q[i].at.Before(q[j].at)
	}
	return q[i].seq < q[j].seq
}

func (q entryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *entryQueue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *entryQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// scheduler is the timer and frame bookkeeping shared by Manual and Real.
// It never runs callbacks itself.
type scheduler struct {
	mu        sync.Mutex
	queue     entryQueue
	seq       uint64
	nextID    FrameID
	frames    map[FrameID]*entry
	interval  time.Duration
	lastFrame time.Time
}

func newScheduler(start time.Time, interval time.Duration) *scheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	s := &scheduler{
		frames:    make(map[FrameID]*entry),
		interval:  interval,
		lastFrame: start,
	}
	heap.Init(&s.queue)
	return s
}

func (s *scheduler) pushLocked(e *entry) {
	s.seq++
	e.seq = s.seq
	heap.Push(&s.queue, e)
}

func (s *scheduler) after(now time.Time, d time.Duration, fn func()) *entry {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{at: now.Add(d), fn: fn}
	s.pushLocked(e)
	return e
}

// requestFrame coalesces every request made within one frame period onto the
// same frame boundary.
func (s *scheduler) requestFrame(now time.Time, fn FrameFunc) FrameID {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.lastFrame.Add(s.interval)
	if at.Before(now) {
		at = now
	}
	s.nextID++
	e := &entry{at: at, frame: fn, id: s.nextID}
	s.frames[e.id] = e
	s.pushLocked(e)
	return e.id
}

func (s *scheduler) cancel(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.index < 0 {
		return false
	}
	heap.Remove(&s.queue, e.index)
	if e.frame != nil {
		delete(s.frames, e.id)
	}
	return true
}

func (s *scheduler) cancelFrame(id FrameID) {
	s.mu.Lock()
	e, ok := s.frames[id]
	s.mu.Unlock()
	if ok {
		s.cancel(e)
	}
}

// next returns the due time of the earliest entry.
func (s *scheduler) next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].at, true
}

// popDue removes and returns the earliest entry due at or before now.
func (s *scheduler) popDue(now time.Time) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 || s.queue[0].at.After(now) {
		return nil
	}
	e := heap.Pop(&s.queue).(*entry)
	if e.frame != nil {
		delete(s.frames, e.id)
		if e.at.After(s.lastFrame) {
			s.lastFrame = e.at
		}
	}
	return e
}

func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (e *entry) run() {
	if e.frame != nil {
		e.frame(e.at)
		return
	}
	e.fn()
}

type timer struct {
	s *scheduler
	e *entry
}

func (t *timer) Stop() bool {
	return t.s.cancel(t.e)
}
