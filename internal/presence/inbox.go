package presence

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"teleconsult-server/internal/models"
)

// Inbox is the consumer side of at-least-once delivery: it drops messages
// whose ID it has already seen and keeps the rest in Seq order.
type Inbox struct {
	mu   sync.Mutex
	seen map[string]struct{}
	msgs []models.Message
}

// NewInbox creates an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{seen: make(map[string]struct{})}
}

// Add records a delivered batch and returns only the messages not seen before.
func (i *Inbox) Add(batch []models.Message) []models.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	fresh := lo.Filter(lo.UniqBy(batch, func(m models.Message) string { return m.ID }), func(m models.Message, _ int) bool {
		_, dup := i.seen[m.ID]
		return !dup
	})
	for _, m := range fresh {
		i.seen[m.ID] = struct{}{}
	}
	i.msgs = append(i.msgs, fresh...)
	sort.SliceStable(i.msgs, func(a, b int) bool { return i.msgs[a].Seq < i.msgs[b].Seq })
	return fresh
}

// Messages returns the distinct messages seen so far.
func (i *Inbox) Messages() []models.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]models.Message(nil), i.msgs...)
}

// LastSeq returns the highest Seq seen, for resuming a subscription.
func (i *Inbox) LastSeq() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.msgs) == 0 {
		return 0
	}
	return i.msgs[len(i.msgs)-1].Seq
}
