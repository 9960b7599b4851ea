package termcore

import (
	"testing"
)

// recordingObserver captures every callback invocation.
type recordingObserver struct {
	BaseObserver
	events []Event
	zone   []Event
	screen []Event
	subs   []EventKind
	panics bool
}

func (o *recordingObserver) OnEvent(ev Event) {
	if o.panics {
		panic("observer failure")
	}
	o.events = append(o.events, ev)
}

func (o *recordingObserver) OnZoneEvent(ev Event)   { o.zone = append(o.zone, ev) }
func (o *recordingObserver) OnScreenEvent(ev Event) { o.screen = append(o.screen, ev) }
func (o *recordingObserver) Subscriptions() []EventKind {
	return o.subs
}

func TestObserverDispatchOrder(t *testing.T) {
	bus := NewObserverBus()

	var order []int
	first := &funcObserver{fn: func(Event) { order = append(order, 1) }}
	second := &funcObserver{fn: func(Event) { order = append(order, 2) }}

	bus.AddObserver(first)
	bus.AddObserver(second)
	bus.Dispatch(Event{Kind: EventKindBellRang})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("dispatch order = %v", order)
	}
}

type funcObserver struct {
	BaseObserver
	fn func(Event)
}

func (o *funcObserver) OnEvent(ev Event) { o.fn(ev) }

func TestObserverSubscriptionFilter(t *testing.T) {
	bus := NewObserverBus()
	o := &recordingObserver{subs: []EventKind{EventKindTitleChanged}}
	bus.AddObserver(o)

	bus.Dispatch(Event{Kind: EventKindBellRang})
	bus.Dispatch(Event{Kind: EventKindTitleChanged, Title: "x"})

	if len(o.events) != 1 || o.events[0].Kind != EventKindTitleChanged {
		t.Errorf("subscription filter failed: %+v", o.events)
	}
}

func TestObserverPanicIsolated(t *testing.T) {
	bus := NewObserverBus()
	bad := &recordingObserver{panics: true}
	good := &recordingObserver{}
	bus.AddObserver(bad)
	bus.AddObserver(good)

	bus.Dispatch(Event{Kind: EventKindBellRang})

	if len(good.events) != 1 {
		t.Errorf("panic in first observer blocked delivery: %d events", len(good.events))
	}
}

func TestObserverRemove(t *testing.T) {
	bus := NewObserverBus()
	o := &recordingObserver{}
	id := bus.AddObserver(o)

	if !bus.RemoveObserver(id) {
		t.Fatal("expected removal to succeed")
	}
	if bus.RemoveObserver(id) {
		t.Error("expected second removal to fail")
	}
	bus.Dispatch(Event{Kind: EventKindBellRang})
	if len(o.events) != 0 {
		t.Error("removed observer still received events")
	}
}

func TestObserverCategoryCallbacks(t *testing.T) {
	bus := NewObserverBus()
	o := &recordingObserver{}
	bus.AddObserver(o)

	zone := Zone{ID: 1, Type: ZonePrompt}
	bus.Dispatch(Event{Kind: EventKindZoneOpened, Zone: &zone})
	bus.Dispatch(Event{Kind: EventKindBellRang})

	if len(o.zone) != 1 {
		t.Errorf("expected 1 zone callback, got %d", len(o.zone))
	}
	if len(o.screen) != 1 {
		t.Errorf("expected 1 screen callback, got %d", len(o.screen))
	}
	if len(o.events) != 2 {
		t.Errorf("expected OnEvent for both, got %d", len(o.events))
	}
}

func TestPollEventsAdditiveWithObservers(t *testing.T) {
	bus := NewObserverBus()
	o := &recordingObserver{}
	bus.AddObserver(o)

	bus.Dispatch(Event{Kind: EventKindBellRang})

	polled := bus.PollEvents()
	if len(polled) != 1 {
		t.Fatalf("expected 1 polled event, got %d", len(polled))
	}
	if len(o.events) != 1 {
		t.Error("observer must still see events when polling is used")
	}
	if got := bus.PollEvents(); len(got) != 0 {
		t.Error("poll queue must drain")
	}
}

func TestPollQueueBounded(t *testing.T) {
	bus := NewObserverBus()
	for i := 0; i < defaultMaxPendingEvents+50; i++ {
		bus.Dispatch(Event{Kind: EventKindBellRang})
	}
	if got := len(bus.PollEvents()); got != defaultMaxPendingEvents {
		t.Errorf("expected queue capped at %d, got %d", defaultMaxPendingEvents, got)
	}
}

func TestTerminalEmitsCoreEvents(t *testing.T) {
	term := New(WithSize(24, 80))

	term.WriteString("\a")
	term.WriteString("\x1b]0;hello\x07")
	term.WriteString("\x1b]7;file://host/tmp\x07")
	term.Resize(30, 100)

	kinds := map[EventKind]int{}
	var titleEv, cwdEv, sizeEv Event
	for _, ev := range term.PollEvents() {
		kinds[ev.Kind]++
		switch ev.Kind {
		case EventKindTitleChanged:
			titleEv = ev
		case EventKindCwdChanged:
			cwdEv = ev
		case EventKindSizeChanged:
			sizeEv = ev
		}
	}

	if kinds[EventKindBellRang] == 0 {
		t.Error("missing BellRang event")
	}
	if kinds[EventKindTitleChanged] == 0 || titleEv.Title != "hello" {
		t.Errorf("missing/incorrect TitleChanged: %+v", titleEv)
	}
	if kinds[EventKindCwdChanged] == 0 || cwdEv.NewCwd != "file://host/tmp" {
		t.Errorf("missing/incorrect CwdChanged: %+v", cwdEv)
	}
	if kinds[EventKindSizeChanged] == 0 || sizeEv.Cols != 100 || sizeEv.Rows != 30 {
		t.Errorf("missing/incorrect SizeChanged: %+v", sizeEv)
	}
}

func TestUserVarEnvironmentEvent(t *testing.T) {
	term := New(WithSize(24, 80))
	term.SetUserVar("K", "V")

	var envEv *Event
	for _, ev := range term.PollEvents() {
		if ev.Kind == EventKindEnvironmentChanged {
			e := ev
			envEv = &e
		}
	}
	if envEv == nil {
		t.Fatal("expected EnvironmentChanged event")
	}
	if envEv.Key != "K" || envEv.Value != "V" || envEv.EnvAction != "set" {
		t.Errorf("unexpected event: %+v", envEv)
	}
}
