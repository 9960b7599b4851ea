package termcore

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventKind classifies the structural events surfaced by the terminal.
type EventKind int

const (
	EventKindBellRang EventKind = iota
	EventKindTitleChanged
	EventKindZoneOpened
	EventKindZoneClosed
	EventKindZoneScrolledOut
	EventKindShellIntegration
	EventKindCwdChanged
	EventKindEnvironmentChanged
	EventKindSizeChanged
	EventKindNotification
	EventKindProgressBarChanged
	EventKindBadgeFormatChanged
	EventKindGraphicAdded
	EventKindGraphicRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventKindBellRang:
		return "bell_rang"
	case EventKindTitleChanged:
		return "title_changed"
	case EventKindZoneOpened:
		return "zone_opened"
	case EventKindZoneClosed:
		return "zone_closed"
	case EventKindZoneScrolledOut:
		return "zone_scrolled_out"
	case EventKindShellIntegration:
		return "shell_integration"
	case EventKindCwdChanged:
		return "cwd_changed"
	case EventKindEnvironmentChanged:
		return "environment_changed"
	case EventKindSizeChanged:
		return "size_changed"
	case EventKindNotification:
		return "notification"
	case EventKindProgressBarChanged:
		return "progress_bar_changed"
	case EventKindBadgeFormatChanged:
		return "badge_format_changed"
	case EventKindGraphicAdded:
		return "graphic_added"
	case EventKindGraphicRemoved:
		return "graphic_removed"
	default:
		return "unknown"
	}
}

// Event is one structural terminal event. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind      EventKind
	Timestamp time.Time

	// TitleChanged
	Title string

	// ZoneOpened / ZoneClosed / ZoneScrolledOut
	Zone *Zone

	// ShellIntegration
	ShellEvent ShellIntegrationEventType

	// CwdChanged
	OldCwd string
	NewCwd string

	// EnvironmentChanged
	Key       string
	Value     string
	EnvAction string // "set", "unset", "cleared"

	// SizeChanged
	Cols int
	Rows int

	// Notification
	Notification *Notification

	// ProgressBarChanged
	Progress *ProgressUpdate

	// BadgeFormatChanged
	BadgeFormat string

	// GraphicAdded / GraphicRemoved
	GraphicID uint32
}

// Observer receives terminal events. OnEvent fires for every delivered event;
// the remaining callbacks fire for their category only. Subscriptions limits
// delivery to the listed kinds; a nil return means all kinds.
type Observer interface {
	OnEvent(ev Event)
	OnZoneEvent(ev Event)
	OnCommandEvent(ev Event)
	OnEnvironmentEvent(ev Event)
	OnScreenEvent(ev Event)
	Subscriptions() []EventKind
}

// BaseObserver is a no-op Observer suitable for embedding, so hosts override
// only the callbacks they care about.
type BaseObserver struct{}

func (BaseObserver) OnEvent(ev Event)            {}
func (BaseObserver) OnZoneEvent(ev Event)        {}
func (BaseObserver) OnCommandEvent(ev Event)     {}
func (BaseObserver) OnEnvironmentEvent(ev Event) {}
func (BaseObserver) OnScreenEvent(ev Event)      {}
func (BaseObserver) Subscriptions() []EventKind  { return nil }

var _ Observer = (*BaseObserver)(nil)

type registeredObserver struct {
	id            int
	observer      Observer
	subscriptions map[EventKind]bool // nil = all kinds
}

// defaultMaxPendingEvents bounds the legacy poll queue.
const defaultMaxPendingEvents = 1024

// ObserverBus fans events out to registered observers in registration order
// and additionally retains them in a bounded queue for PollEvents. A panic in
// one observer is recovered and does not prevent delivery to the rest.
type ObserverBus struct {
	mu        sync.Mutex
	observers []registeredObserver
	nextID    int

	pending    []Event
	maxPending int
}

// NewObserverBus creates an empty bus.
func NewObserverBus() *ObserverBus {
	return &ObserverBus{maxPending: defaultMaxPendingEvents}
}

// AddObserver registers an observer and returns its id for later removal.
// The observer's Subscriptions() is sampled once at registration.
func (b *ObserverBus) AddObserver(o Observer) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	reg := registeredObserver{id: b.nextID, observer: o}
	if subs := o.Subscriptions(); subs != nil {
		reg.subscriptions = make(map[EventKind]bool, len(subs))
		for _, k := range subs {
			reg.subscriptions[k] = true
		}
	}
	b.observers = append(b.observers, reg)
	return b.nextID
}

// RemoveObserver unregisters the observer with the given id.
// Returns true if an observer was removed.
func (b *ObserverBus) RemoveObserver(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, reg := range b.observers {
		if reg.id == id {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return true
		}
	}
	return false
}

// ObserverCount returns the number of registered observers.
func (b *ObserverBus) ObserverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

// Dispatch delivers an event to every subscribed observer and appends it to
// the poll queue. Observers run in registration order.
func (b *ObserverBus) Dispatch(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	observers := make([]registeredObserver, len(b.observers))
	copy(observers, b.observers)

	b.pending = append(b.pending, ev)
	if len(b.pending) > b.maxPending {
		b.pending = b.pending[len(b.pending)-b.maxPending:]
	}
	b.mu.Unlock()

	for _, reg := range observers {
		if reg.subscriptions != nil && !reg.subscriptions[ev.Kind] {
			continue
		}
		safeNotify(reg.observer, ev)
	}
}

// safeNotify calls the observer's callbacks for one event, recovering a panic
// so that one misbehaving observer cannot stop delivery to the rest.
func safeNotify(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", ev.Kind.String()).Msg("observer panicked")
		}
	}()

	o.OnEvent(ev)

	switch ev.Kind {
	case EventKindZoneOpened, EventKindZoneClosed, EventKindZoneScrolledOut:
		o.OnZoneEvent(ev)
	case EventKindShellIntegration, EventKindCwdChanged:
		o.OnCommandEvent(ev)
	case EventKindEnvironmentChanged, EventKindBadgeFormatChanged:
		o.OnEnvironmentEvent(ev)
	case EventKindBellRang, EventKindTitleChanged, EventKindSizeChanged,
		EventKindNotification, EventKindProgressBarChanged,
		EventKindGraphicAdded, EventKindGraphicRemoved:
		o.OnScreenEvent(ev)
	}
}

// PollEvents drains and returns the pending event queue in emission order.
func (b *ObserverBus) PollEvents() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// --- Wiring into Terminal ---

// AddObserver registers an observer on the terminal's bus.
func (t *Terminal) AddObserver(o Observer) int {
	return t.observers.AddObserver(o)
}

// RemoveObserver unregisters a previously added observer.
func (t *Terminal) RemoveObserver(id int) bool {
	return t.observers.RemoveObserver(id)
}

// PollEvents drains the terminal's pending event queue.
func (t *Terminal) PollEvents() []Event {
	return t.observers.PollEvents()
}

// emitEvent dispatches an event through the bus. Callers must not hold t.mu:
// observers may call back into the terminal.
func (t *Terminal) emitEvent(ev Event) {
	if t.observers != nil {
		t.observers.Dispatch(ev)
	}
}

// emitZoneEvent translates a zone registry event into a bus event.
func (t *Terminal) emitZoneEvent(ev ZoneEvent) {
	zone := ev.Zone
	out := Event{Zone: &zone}
	switch ev.Kind {
	case "opened":
		out.Kind = EventKindZoneOpened
	case "closed":
		out.Kind = EventKindZoneClosed
	case "scrolled_out":
		out.Kind = EventKindZoneScrolledOut
	default:
		return
	}
	t.emitEvent(out)
}
