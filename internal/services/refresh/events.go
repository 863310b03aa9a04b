package refresh

// Event types emitted to observers during a run.
const (
	EventStarted     = "started"
	EventStateDone   = "state_done"
	EventStateFailed = "state_failed"
	EventFinished    = "finished"
)

// Event is a progress notification for one run.
type Event struct {
	Type    string `json:"type"`
	RunID   string `json:"run_id"`
	Date    string `json:"date"`
	State   string `json:"state,omitempty"`
	Index   int    `json:"index,omitempty"`
	Total   int    `json:"total,omitempty"`
	Records int    `json:"records,omitempty"`
	Outcome Phase  `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Observer receives progress events synchronously. It must not block.
type Observer func(Event)

// Subscribe registers fn for every future event.
func (o *Orchestrator) Subscribe(fn Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

func (o *Orchestrator) emit(ev Event) {
	o.mu.Lock()
	observers := append([]Observer(nil), o.observers...)
	o.mu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}
