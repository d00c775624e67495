package campaign

import (
	"log/slog"
	"sync"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

const defaultBuffer = 256

// broker fans events out to subscribers. A subscriber that cannot keep up
// is dropped and its channel closed; publish never blocks.
type broker struct {
	mu   sync.Mutex
	next int
	subs map[int]chan model.Event
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan model.Event)}
}

func (b *broker) subscribe(buffer int) (<-chan model.Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan model.Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *broker) publish(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping slow event subscriber", "subscriber", id)
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *broker) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}
