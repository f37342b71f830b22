// Package queue implements the bounded, priority-aware drop-on-backpressure
// packet queue that sits between the producer (encoder) thread and the
// Sender Worker.
package queue

import (
	"container/list"
	"sync"

	"zixicore/internal/zixi"
)

// dropThresholdUsec is the 1-second buffer-duration ceiling from §4.3. The
// field is named in real microseconds (§3's dts_usec is documented as
// microseconds); 1 second of buffered duration is therefore 1,000,000 usec.
const dropThresholdUsec = 1_000_000

// minPacketsForDropCheck is the "queue holds >= 5 packets" gate from §4.3.
const minPacketsForDropCheck = 5

// Queue is single-producer, single-consumer: Enqueue is called only from the
// producer thread, Dequeue only from the Sender Worker. The mutex protects
// the shared list and bookkeeping fields from the brief windows where both
// sides touch them (length checks, drop accounting).
type Queue struct {
	mu sync.Mutex

	packets *list.List // of zixi.Packet

	minPriority    int
	minDropDTSUsec int64
	dropSeen       bool

	droppedFrames uint32
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{packets: list.New()}
}

// Enqueue appends pkt, first running the drop check (§4.3). Video keyframes
// and audio packets are never dropped by the drop check; a video
// non-keyframe below the current min_priority floor is dropped on arrival.
func (q *Queue) Enqueue(pkt zixi.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dropSeen && pkt.DTSUsec < q.minDropDTSUsec {
		// Reset: a new head earlier than the last drop point skips the
		// check entirely, protecting against post-drop starvation.
		q.append(pkt)
		return
	}

	if q.shouldDropOnArrival(pkt) {
		q.droppedFrames++
		return
	}

	q.append(pkt)
	q.runDropCheckLocked()
}

func (q *Queue) shouldDropOnArrival(pkt zixi.Packet) bool {
	if pkt.Kind == zixi.Audio || pkt.Keyframe {
		return false
	}
	return pkt.Priority < q.minPriority
}

func (q *Queue) append(pkt zixi.Packet) {
	q.packets.PushBack(pkt)
}

// runDropCheckLocked implements the §4.3 drop check; caller holds q.mu.
func (q *Queue) runDropCheckLocked() {
	if q.packets.Len() < minPacketsForDropCheck {
		return
	}
	head := q.packets.Front().Value.(zixi.Packet)
	tail := q.packets.Back().Value.(zixi.Packet)
	bufferDuration := tail.DTSUsec - head.DTSUsec
	if bufferDuration <= dropThresholdUsec {
		return
	}

	maxDropPriority := 0
	var lastDroppedDTS int64
	for e := q.packets.Front(); e != nil; {
		next := e.Next()
		pkt := e.Value.(zixi.Packet)
		if pkt.Kind == zixi.Video && !pkt.Keyframe {
			if pkt.DropPriority > maxDropPriority {
				maxDropPriority = pkt.DropPriority
			}
			lastDroppedDTS = pkt.DTSUsec
			q.packets.Remove(e)
			q.droppedFrames++
		}
		e = next
	}

	q.minPriority = maxDropPriority
	q.minDropDTSUsec = lastDroppedDTS
	q.dropSeen = true
}

// Dequeue removes and returns the head packet. ok is false on an empty
// queue; callers block on a separate readiness signal before calling this.
func (q *Queue) Dequeue() (pkt zixi.Packet, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.packets.Front()
	if front == nil {
		return zixi.Packet{}, false
	}
	q.packets.Remove(front)
	return front.Value.(zixi.Packet), true
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.packets.Len()
}

// MinPriority reports the current drop-floor, for tests and telemetry.
func (q *Queue) MinPriority() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.minPriority
}

// DroppedFrames reports the cumulative number of packets removed by the drop
// policy since the queue was created.
func (q *Queue) DroppedFrames() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.droppedFrames
}

// Drain removes and discards every remaining packet, for use on disconnect;
// the return value is how many were released, matching the packet_alloc -
// packet_free reconciliation in §3 invariant 5.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.packets.Len()
	q.packets.Init()
	return n
}
