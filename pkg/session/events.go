package session

type EventKind int

const (
	CategoriesChanged EventKind = iota
	FacetsChanged
	ResultsChanged
)

func (k EventKind) String() string {
	switch k {
	case CategoriesChanged:
		return "categories"
	case FacetsChanged:
		return "facets"
	case ResultsChanged:
		return "results"
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Session *Session
	Err     error
}

type Handler func(Event)

// OnChange registers a render handler under name. Registering the same name
// again replaces the handler, a re-render never adds a second listener.
func (s *Session) OnChange(name string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.handlers[name]; !found {
		s.order = append(s.order, name)
	}
	s.handlers[name] = handler
}

func (s *Session) Off(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.handlers[name]; !found {
		return
	}
	delete(s.handlers, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Session) emit(kind EventKind, err error) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.order))
	for _, name := range s.order {
		handlers = append(handlers, s.handlers[name])
	}
	s.mu.Unlock()

	event := Event{Kind: kind, Session: s, Err: err}
	for _, h := range handlers {
		h(event)
	}
}
