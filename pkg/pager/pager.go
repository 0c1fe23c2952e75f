package pager

import (
	"context"
	"errors"
	"sync"

	"github.com/matst80/slask-browse/pkg/query"
	"github.com/matst80/slask-browse/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	Loading
	Exhausted
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Exhausted:
		return "exhausted"
	case Errored:
		return "errored"
	}
	return "unknown"
}

type Outcome int

const (
	// Skipped means there was nothing to do, a page is already loading, the
	// listing is exhausted or the last fetch failed and waits for a retry.
	Skipped Outcome = iota
	Fetched
	// Discarded means the response belonged to a superseded query state.
	Discarded
)

type Result struct {
	Outcome Outcome
	Page    *types.Page
}

// Err is ErrStaleResponse for a discarded response and nil otherwise.
func (r Result) Err() error {
	if r.Outcome == Discarded {
		return types.ErrStaleResponse
	}
	return nil
}

// DefaultScrollThreshold is how close to the bottom, in pixels, the viewport
// has to be before the next page is requested.
const DefaultScrollThreshold = 400

// NearBottom reports whether the scroll position is within threshold of the
// end of the content.
func NearBottom(viewportBottom, contentHeight, threshold float64) bool {
	return viewportBottom >= contentHeight-threshold
}

type Fetcher interface {
	FetchPage(ctx context.Context, params types.Params) (*types.Page, error)
}

var (
	pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slaskbrowse_pages_fetched_total",
		Help: "The total number of listing pages appended",
	})
	pagesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slaskbrowse_pages_discarded_total",
		Help: "The total number of listing responses dropped as stale",
	})
	pageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slaskbrowse_page_errors_total",
		Help: "The total number of failed listing fetches",
	})
)

// Pager drives incremental fetches against the listing endpoint and collects
// the pages. It is safe for concurrent use, the lock is not held while the
// request is in flight.
type Pager struct {
	mu      sync.Mutex
	store   *query.Store
	fetcher Fetcher
	logger  *zap.Logger
	state   State
	items   []types.Item
	epoch   uint64
}

func New(store *query.Store, fetcher Fetcher, logger *zap.Logger) *Pager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		state:   Idle,
	}
}

// Reset starts over from the first page. Responses of requests issued before
// the reset are dropped when they arrive.
func (p *Pager) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch++
	p.state = Idle
	p.items = nil
	p.store.Rewind()
}

func (p *Pager) FetchNext(ctx context.Context) (Result, error) {
	p.mu.Lock()
	if p.state != Idle {
		state := p.state
		p.mu.Unlock()
		p.logger.Debug("fetch skipped", zap.Stringer("state", state))
		return Result{Outcome: Skipped}, nil
	}
	p.state = Loading
	epoch := p.epoch
	req := p.store.Request()
	p.mu.Unlock()

	page, err := p.fetcher.FetchPage(ctx, req.Params)

	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.epoch || req.Key != p.store.Key() {
		if epoch == p.epoch {
			// filters changed without a reset, this request still owned the loading state
			p.state = Idle
		}
		pagesDiscarded.Inc()
		p.logger.Debug("stale page discarded", zap.String("request", req.Key), zap.Error(err))
		return Result{Outcome: Discarded}, nil
	}
	if err != nil {
		pageErrors.Inc()
		p.state = Errored
		p.logger.Warn("page fetch failed", zap.String("request", req.Key), zap.Error(err))
		return Result{}, err
	}
	if page == nil {
		page = &types.Page{}
	}
	p.items = append(p.items, page.Items...)
	if page.HasMore {
		p.state = Idle
	} else {
		p.state = Exhausted
	}
	p.store.AdvancePage()
	pagesFetched.Inc()
	return Result{Outcome: Fetched, Page: page}, nil
}

// Retry leaves the errored state and fetches again. It never happens on its
// own, the user has to ask for it.
func (p *Pager) Retry(ctx context.Context) (Result, error) {
	p.mu.Lock()
	if p.state == Errored {
		p.state = Idle
	}
	p.mu.Unlock()
	return p.FetchNext(ctx)
}

func (p *Pager) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pager) Items() []types.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := make([]types.Item, len(p.items))
	copy(ret, p.items)
	return ret
}

func (p *Pager) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// IsNetworkError reports whether err came from the transport or a non 2xx
// response, the cases the page shows a retry affordance for.
func IsNetworkError(err error) bool {
	var netErr *types.NetworkError
	return errors.As(err, &netErr)
}
