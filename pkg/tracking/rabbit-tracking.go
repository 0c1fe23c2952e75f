package tracking

import (
	"github.com/google/uuid"
	"github.com/matst80/slask-browse/pkg/messaging"
	"github.com/matst80/slask-browse/pkg/query"
	"github.com/matst80/slask-browse/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type EventKind uint16

const (
	EventSearch EventKind = iota + 1
	EventApplyFilters
	EventLoadMore
	EventResetFilters
	EventSelectCategory
)

func (k EventKind) String() string {
	switch k {
	case EventSearch:
		return "search"
	case EventApplyFilters:
		return "apply_filters"
	case EventLoadMore:
		return "load_more"
	case EventResetFilters:
		return "reset_filters"
	case EventSelectCategory:
		return "select_category"
	}
	return "unknown"
}

type Tracker interface {
	TrackQuery(event *QueryEvent)
	Close() error
}

type BaseEvent struct {
	SessionId string    `json:"session_id"`
	Context   string    `json:"context,omitempty"`
	Event     EventKind `json:"event"`
}

type QueryEvent struct {
	*BaseEvent
	Query           string `json:"query,omitempty"`
	CategoryId      *int64 `json:"category_id,omitempty"`
	Facets          string `json:"facets,omitempty"`
	Offset          int    `json:"offset"`
	Limit           int    `json:"limit"`
	NumberOfResults int    `json:"noi"`
}

func NewQueryEvent(sessionId uuid.UUID, pageContext string, kind EventKind, state types.QueryState, results int) *QueryEvent {
	event := &QueryEvent{
		BaseEvent:       &BaseEvent{SessionId: sessionId.String(), Context: pageContext, Event: kind},
		Query:           state.Query,
		Facets:          query.FacetParams(state.Facets).Encode(),
		Offset:          state.Offset,
		Limit:           state.Limit,
		NumberOfResults: results,
	}
	if state.CategoryId != nil {
		id := int64(*state.CategoryId)
		event.CategoryId = &id
	}
	return event
}

type RabbitTracking struct {
	connection *amqp.Connection
	logger     *zap.Logger
}

const trackingPrefix = "global"

// NewRabbitTracking connects and declares the tracking topic.
func NewRabbitTracking(url string, logger *zap.Logger) (*RabbitTracking, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ret := RabbitTracking{
		logger: logger,
	}
	if err := ret.connect(url); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (t *RabbitTracking) connect(url string) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return err
	}
	t.connection = conn
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return messaging.DefineTopic(ch, trackingPrefix, messaging.QueryTracking)
}

func (t *RabbitTracking) Close() error {
	return t.connection.Close()
}

func (t *RabbitTracking) send(data any) error {
	return messaging.SendChange(t.connection, trackingPrefix, messaging.QueryTracking, data)
}

func (t *RabbitTracking) TrackQuery(event *QueryEvent) {
	if err := t.send(event); err != nil {
		t.logger.Warn("failed to send tracking event", zap.Stringer("event", event.Event), zap.String("context", event.Context), zap.Error(err))
	}
}

type NoopTracking struct{}

func (NoopTracking) TrackQuery(*QueryEvent) {}

func (NoopTracking) Close() error {
	return nil
}
