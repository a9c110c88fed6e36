package chat

import (
	"context"
	"sync"
	"time"

	"github.com/nadeko0/wirechat/logger"
	"github.com/nadeko0/wirechat/service/storage"
)

type presenceEvent struct {
	userID int64
	online bool
	at     time.Time
}

// Broadcaster fans presence transitions out to every connected session
// and records last-seen in the presence store. Events go through a
// buffered channel consumed by one worker, so firing a transition never
// blocks registry mutations or message routing; under pressure events
// are dropped, presence is best-effort by contract.
type Broadcaster struct {
	presence storage.PresenceStore
	reg      *Registry

	jobs     chan presenceEvent
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewBroadcaster(presence storage.PresenceStore, queue int) *Broadcaster {
	if queue <= 0 {
		queue = 256
	}
	return &Broadcaster{
		presence: presence,
		jobs:     make(chan presenceEvent, queue),
		done:     make(chan struct{}),
	}
}

// Start binds the registry whose sessions receive presence frames and
// launches the worker. Bound after construction because the registry
// itself is built with this broadcaster as its notifier.
func (b *Broadcaster) Start(reg *Registry) {
	b.reg = reg
	b.wg.Add(1)
	go b.run()
}

func (b *Broadcaster) UserOnline(userID int64) {
	b.enqueue(presenceEvent{userID: userID, online: true, at: time.Now()})
}

func (b *Broadcaster) UserOffline(userID int64) {
	b.enqueue(presenceEvent{userID: userID, online: false, at: time.Now()})
}

func (b *Broadcaster) enqueue(ev presenceEvent) {
	select {
	case <-b.done:
	default:
		select {
		case b.jobs <- ev:
		default:
			logger.Warnf("[presence] queue full, dropping event user=%d online=%v", ev.userID, ev.online)
		}
	}
}

// Close stops the worker after draining queued events.
func (b *Broadcaster) Close() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *Broadcaster) run() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.jobs:
			b.handle(ev)
		case <-b.done:
			for {
				select {
				case ev := <-b.jobs:
					b.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Broadcaster) handle(ev presenceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.presence.SetLastSeen(ctx, ev.userID, ev.online, ev.at); err != nil {
		logger.Errorf("[presence] set last seen user=%d: %v", ev.userID, err)
	}

	// Literal policy: every connected session hears every transition.
	frame := NewPresenceFrame(ev.userID, ev.online, ev.at)
	for _, sess := range b.reg.Snapshot() {
		if sess.UserID == ev.userID {
			continue
		}
		if err := sess.WriteJSON(frame); err != nil {
			logger.Debugf("[presence] notify user=%d conn=%s: %v", sess.UserID, sess.ConnID, err)
		}
	}
}
