package streamer

import (
	"sync"
	"time"

	"github.com/tphakala/streamcore/internal/audioqueue"
)

// queueAdapter defers constructing the real *audioqueue.Queue until the
// format is known. audioqueue.New takes the ASBD and buffer count up
// front, but those only become available from a PropASBD parser property
// event fired well after the Streamer starts — so newQueueAdapter holds
// nothing but the message channel until create() runs from createQueue().
// Every other method is a nil-guarded passthrough, matching the "false/
// zero if the queue isn't created yet" semantics spec.md §6/§7 expect of
// calls like set_volume.
//
// The pump goroutine's lifetime is owned entirely by this type, not
// borrowed from the Byte Source's done channel: a Shoutcast reset
// (resetForSniff) replaces the queue while the Source stays open, and a
// seek's teardown()/reopen cycle replaces the Source while the queue
// survives. Tying pump shutdown to the wrong one of those leaves either a
// stale pump goroutine emitting events for a defunct device, or a live
// queue whose events are never read again.
type queueAdapter struct {
	msgs chan message
	done chan struct{}

	// q is only ever reassigned from the run loop (create(), on every
	// createQueue() call including a Shoutcast reset's second one), but
	// Progress() reads SampleTime() from arbitrary goroutines — so unlike
	// done, q goes through mu.
	mu sync.Mutex
	q  *audioqueue.Queue
}

func newQueueAdapter(msgs chan message) *queueAdapter {
	return &queueAdapter{msgs: msgs}
}

func (a *queueAdapter) getQ() *audioqueue.Queue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.q
}

// create replaces the current device, first stopping any pump left over
// from a previous create() (the Shoutcast-reset path).
func (a *queueAdapter) create(asbd audioqueue.ASBD, bufferCount int) error {
	a.stopPump()
	q := audioqueue.New(asbd, bufferCount)
	if err := q.Create(); err != nil {
		return err
	}
	a.mu.Lock()
	a.q = q
	a.mu.Unlock()
	a.done = make(chan struct{})
	go a.pump(q, a.done)
	return nil
}

func (a *queueAdapter) stopPump() {
	if a.done != nil {
		close(a.done)
		a.done = nil
	}
}

func (a *queueAdapter) pump(q *audioqueue.Queue, done <-chan struct{}) {
	events := q.Events()
	for {
		select {
		case ev := <-events:
			select {
			case a.msgs <- message{kind: msgQueueEvent, qevent: ev}:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

func (a *queueAdapter) SetMagicCookie(cookie []byte) error {
	q := a.getQ()
	if q == nil {
		return nil
	}
	return q.SetMagicCookie(cookie)
}

func (a *queueAdapter) Start(playbackRate float64, fileLength int64) error {
	q := a.getQ()
	if q == nil {
		return nil
	}
	return q.Start(playbackRate, fileLength)
}

func (a *queueAdapter) Submit(idx int, data []byte) error {
	q := a.getQ()
	if q == nil {
		return nil
	}
	return q.Submit(idx, data)
}

func (a *queueAdapter) SampleTime() int64 {
	q := a.getQ()
	if q == nil {
		return 0
	}
	return q.SampleTime()
}

func (a *queueAdapter) IsRunning() bool {
	q := a.getQ()
	if q == nil {
		return false
	}
	return q.IsRunning()
}

func (a *queueAdapter) SetVolume(v float64) bool {
	q := a.getQ()
	if q == nil {
		return false
	}
	return q.SetVolume(v)
}

func (a *queueAdapter) FadeTo(target float64, d time.Duration) bool {
	q := a.getQ()
	if q == nil {
		return false
	}
	return q.FadeTo(target, d)
}

func (a *queueAdapter) FadeIn(d time.Duration) bool {
	q := a.getQ()
	if q == nil {
		return false
	}
	return q.FadeIn(d)
}

func (a *queueAdapter) FadeOut(d time.Duration) bool {
	q := a.getQ()
	if q == nil {
		return false
	}
	return q.FadeOut(d)
}

func (a *queueAdapter) Stop() error {
	q := a.getQ()
	if q == nil {
		return nil
	}
	return q.Stop()
}

func (a *queueAdapter) FlushAsync() {
	q := a.getQ()
	if q == nil {
		return
	}
	q.FlushAsync()
}

func (a *queueAdapter) Close() error {
	a.stopPump()
	q := a.getQ()
	if q == nil {
		return nil
	}
	return q.Close()
}
