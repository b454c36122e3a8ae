package events

import (
	"sync"
	"time"
)

// Type identifies the category of an emitted event.
type Type string

const (
	MissionStart    Type = "mission.start"
	MissionComplete Type = "mission.complete"
	MissionFailed   Type = "mission.failed"

	StageStart    Type = "stage.start"
	StageComplete Type = "stage.complete"

	StepStart    Type = "step.start"
	StepComplete Type = "step.complete"
	StepError    Type = "step.error"

	FetchStart    Type = "fetch.start"
	FetchComplete Type = "fetch.complete"
	FetchRetry    Type = "fetch.retry"
	FetchError    Type = "fetch.error"

	LoopStart     Type = "loop.start"
	LoopIteration Type = "loop.iteration"
	LoopComplete  Type = "loop.complete"

	DataTransform Type = "data.transform"
	DataValidate  Type = "data.validate"
	DataStore     Type = "data.store"

	WebhookRegister Type = "webhook.register"
	WebhookComplete Type = "webhook.complete"

	RateLimited Type = "rate.limited"
	RateWaiting Type = "rate.waiting"
	RateResumed Type = "rate.resumed"

	CircuitOpened   Type = "circuit.opened"
	CircuitHalfOpen Type = "circuit.half_open"
	CircuitClosed   Type = "circuit.closed"
	CircuitRejected Type = "circuit.rejected"
)

// Event is one occurrence on the bus. Fields outside Type/Timestamp are
// filled in as relevant; subscribers must tolerate zero values on fields a
// given Type doesn't populate. Detail carries the type-specific payload
// (e.g. a FetchDetail, a CircuitDetail) so a subscriber that cares can
// type-assert it; one that doesn't can ignore it.
type Event struct {
	Type      Type
	Timestamp time.Time
	Mission   string
	RunID     string
	Stage     string
	Action    string
	Step      string
	Source    string
	Endpoint  string
	Message   string
	Detail    interface{}
}

// FetchDetail is the Detail payload for fetch.* events.
type FetchDetail struct {
	Method  string
	Path    string
	Status  int
	Attempt int
	Page    int
}

// CircuitDetail is the Detail payload for circuit.* events.
type CircuitDetail struct {
	NextAttemptIn time.Duration
}

// RateDetail is the Detail payload for rate.* events.
type RateDetail struct {
	Remaining int
	ResetAt   time.Time
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes mission events to subscribers. Publish never blocks on
// a slow or absent subscriber.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a broker with its internal channels ready; Start must
// still be called to begin the distribution loop.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop in its own goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts distribution. Subscriber channels are left open; callers
// should Unsubscribe explicitly.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a new buffered channel registered with the broker.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 128)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe deregisters and closes a subscriber channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues an event for broadcast, stamping Timestamp if unset.
func (b *Broker) Publish(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- ev:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case ev := <-b.eventCh:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
			// subscriber buffer full, drop rather than block the mission
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
