package engine

import (
	"container/heap"
	"container/list"
	"time"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// queuedEvent is an event waiting in a subscription queue. It is owned by
// exactly one worker between dequeue and requeue.
type queuedEvent struct {
	event       delivery.Event
	queuedAt    time.Time
	attempts    uint32
	nextRetryAt *time.Time
	priority    delivery.Priority
	sequence    uint64

	index int // heap position, maintained by priorityQueue
}

func (q *queuedEvent) ready(now time.Time) bool {
	return q.nextRetryAt == nil || !q.nextRetryAt.After(now)
}

// eventQueue is the ordering-specific storage of a subscription
type eventQueue interface {
	Len() int
	push(qe *queuedEvent)
	// pushFront re-inserts a retried event ahead of never-attempted ones
	pushFront(qe *queuedEvent)
	// popReady removes the next ready event in delivery order
	popReady(now time.Time) *queuedEvent
	// evictOldest removes the earliest admitted event
	evictOldest() *queuedEvent
}

func newEventQueue(ordering delivery.Ordering) eventQueue {
	if ordering == delivery.OrderingPriority {
		return &priorityQueue{}
	}
	return &fifoQueue{items: list.New()}
}

type fifoQueue struct {
	items *list.List
}

func (f *fifoQueue) Len() int { return f.items.Len() }

func (f *fifoQueue) push(qe *queuedEvent) { f.items.PushBack(qe) }

func (f *fifoQueue) pushFront(qe *queuedEvent) { f.items.PushFront(qe) }

func (f *fifoQueue) popReady(now time.Time) *queuedEvent {
	for el := f.items.Front(); el != nil; el = el.Next() {
		qe := el.Value.(*queuedEvent)
		if qe.ready(now) {
			f.items.Remove(el)
			return qe
		}
	}
	return nil
}

func (f *fifoQueue) evictOldest() *queuedEvent {
	el := f.items.Front()
	if el == nil {
		return nil
	}
	return f.items.Remove(el).(*queuedEvent)
}

// priorityQueue is a min-heap on (priority, sequence). A retried event keeps
// its sequence, so pushFront is a plain push.
type priorityQueue struct {
	items []*queuedEvent
}

func (p *priorityQueue) Len() int { return len(p.items) }

func (p *priorityQueue) Less(i, j int) bool {
	a, b := p.items[i], p.items[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.sequence < b.sequence
}

func (p *priorityQueue) Swap(i, j int) {
	p.items[i], p.items[j] = p.items[j], p.items[i]
	p.items[i].index = i
	p.items[j].index = j
}

func (p *priorityQueue) Push(x any) {
	qe := x.(*queuedEvent)
	qe.index = len(p.items)
	p.items = append(p.items, qe)
}

func (p *priorityQueue) Pop() any {
	old := p.items
	n := len(old)
	qe := old[n-1]
	old[n-1] = nil
	qe.index = -1
	p.items = old[:n-1]
	return qe
}

func (p *priorityQueue) push(qe *queuedEvent) { heap.Push(p, qe) }

func (p *priorityQueue) pushFront(qe *queuedEvent) { heap.Push(p, qe) }

func (p *priorityQueue) popReady(now time.Time) *queuedEvent {
	if len(p.items) == 0 {
		return nil
	}
	if p.items[0].ready(now) {
		return heap.Pop(p).(*queuedEvent)
	}

	// The head is waiting on a retry delay; take the best ready element instead.
	best := -1
	for i, qe := range p.items {
		if !qe.ready(now) {
			continue
		}
		if best < 0 || p.Less(i, best) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return heap.Remove(p, best).(*queuedEvent)
}

func (p *priorityQueue) evictOldest() *queuedEvent {
	if len(p.items) == 0 {
		return nil
	}
	oldest := 0
	for i, qe := range p.items {
		if qe.sequence < p.items[oldest].sequence {
			oldest = i
		}
	}
	return heap.Remove(p, oldest).(*queuedEvent)
}
