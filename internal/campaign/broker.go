package campaign

import (
	"sync"
)

// ChangeKind describes what happened to a campaign document
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	ChangeEvent   ChangeKind = "event"
)

// Change is one notification delivered to subscribers
type Change struct {
	Kind       ChangeKind `json:"kind"`
	OwnerID    string     `json:"owner_id"`
	CampaignID string     `json:"campaign_id"`
	Version    uint64     `json:"version"`
}

const subscriberBuffer = 16

type subscriber struct {
	ownerID    string
	campaignID string
	ch         chan Change
}

// Broker fans out change notifications to watchers. Delivery is best effort:
// a subscriber whose buffer is full misses the notification and is expected
// to re-read the campaign.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*subscriber)}
}

// Subscribe registers a watcher for an owner. An empty campaignID watches all
// of the owner's campaigns. The returned cancel func closes the channel.
func (b *Broker) Subscribe(ownerID, campaignID string) (<-chan Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{
		ownerID:    ownerID,
		campaignID: campaignID,
		ch:         make(chan Change, subscriberBuffer),
	}
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers c to every matching subscriber without blocking
func (b *Broker) Publish(c Change) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.ownerID != c.OwnerID {
			continue
		}
		if sub.campaignID != "" && sub.campaignID != c.CampaignID {
			continue
		}
		select {
		case sub.ch <- c:
		default:
		}
	}
}

// Subscribers returns the number of active watchers
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
