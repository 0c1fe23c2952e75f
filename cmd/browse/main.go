package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/matst80/slask-browse/pkg/cache"
	"github.com/matst80/slask-browse/pkg/client"
	"github.com/matst80/slask-browse/pkg/common"
	"github.com/matst80/slask-browse/pkg/pager"
	"github.com/matst80/slask-browse/pkg/session"
	"github.com/matst80/slask-browse/pkg/tracking"
	"github.com/matst80/slask-browse/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	query       string
	categories  string
	pageQuery   string
	pages       int
	itemsPath   string
	pageContext string
	debugAddr   string
	verbose     bool
	options     []string
	ranges      []string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&query, "query", "q", "", "free text query")
	flags.StringVarP(&categories, "category", "c", "", "category path by name, e.g. \"SUV/Compact\"")
	flags.StringVar(&pageQuery, "from-url", "", "restore the state from a page query string instead of flags")
	flags.IntVarP(&pages, "pages", "p", 1, "number of pages to load")
	flags.StringVar(&itemsPath, "items", "$.parts", "JSONPath of the listing rows")
	flags.StringVar(&pageContext, "context", "parts", "catalog page name used in tracking")
	flags.StringVar(&debugAddr, "debug-addr", "", "serve /metrics and /health on this address until interrupted")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flags.StringArrayVarP(&options, "facet", "f", nil, "option facet as name=value, repeatable")
	flags.StringArrayVarP(&ranges, "range", "r", nil, "range facet as name=min:max, either side may be empty, repeatable")
}

var rootCmd = &cobra.Command{
	Use:          "browse",
	Short:        "Browse a catalog listing the way the catalog page does",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func parseBound(v string) (types.RangeBound, error) {
	lo, hi, found := strings.Cut(v, ":")
	if !found {
		return types.RangeBound{}, fmt.Errorf("expected min:max, got %q", v)
	}
	bound := types.RangeBound{}
	for _, side := range []struct {
		raw string
		dst **float64
	}{{lo, &bound.Min}, {hi, &bound.Max}} {
		if side.raw == "" {
			continue
		}
		n, err := strconv.ParseFloat(side.raw, 64)
		if err != nil {
			return bound, fmt.Errorf("bad bound %q: %w", side.raw, err)
		}
		*side.dst = types.Float(n)
	}
	return bound, nil
}

func stage(ctx context.Context, s *session.Session) error {
	if categories != "" {
		ids, err := s.Navigator.Find(strings.Split(categories, "/")...)
		if err != nil {
			roots := []string{}
			for _, c := range s.Navigator.Roots() {
				roots = append(roots, c.Name)
			}
			return fmt.Errorf("category %q: %w (top level: %s)", categories, err, strings.Join(roots, ", "))
		}
		for level, id := range ids {
			if err := s.SelectCategory(ctx, level, id); err != nil {
				return err
			}
		}
	}
	for _, f := range options {
		name, value, found := strings.Cut(f, "=")
		if !found {
			return fmt.Errorf("facet: expected name=value, got %q", f)
		}
		if err := s.Panel.ToggleOption(name, value); err != nil {
			return err
		}
	}
	for _, f := range ranges {
		name, value, found := strings.Cut(f, "=")
		if !found {
			return fmt.Errorf("range: expected name=min:max, got %q", f)
		}
		bound, err := parseBound(value)
		if err != nil {
			return fmt.Errorf("range %q: %w", name, err)
		}
		if err := s.Panel.SetRange(name, bound); err != nil {
			return err
		}
	}
	s.Store.SetFreeText(query)
	return nil
}

func writeItems(items []types.Item) error {
	for _, item := range items {
		line, err := sonic.Marshal(item)
		if err != nil {
			return err
		}
		if _, err = os.Stdout.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := common.LoadConfig()
	if err != nil {
		return err
	}

	metadataCache := cache.NewMemoryCache()
	if cfg.RedisUrl != "" {
		if metadataCache, err = cache.Open(cfg.RedisUrl, cfg.RedisPassword); err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
		if err = metadataCache.Ping(context.Background()); err != nil {
			logger.Warn("redis unavailable, metadata is only cached in memory", zap.Error(err))
			metadataCache.Close()
			metadataCache = cache.NewMemoryCache()
		}
	}

	clientCfg := client.DefaultConfig(cfg.ApiUrl)
	clientCfg.ItemsPath = itemsPath
	clientCfg.Timeout = cfg.HttpTimeout
	clientCfg.MetadataTTL = cfg.CacheTTL
	clientOpts := []client.Option{client.WithCache(metadataCache), client.WithLogger(logger)}
	if cfg.ApiToken != "" {
		clientOpts = append(clientOpts, client.WithTokenSource(client.BearerToken(cfg.ApiToken)))
	}
	api, err := client.New(clientCfg, clientOpts...)
	if err != nil {
		return err
	}

	var tracker tracking.Tracker = tracking.NoopTracking{}
	if cfg.RabbitUrl != "" {
		rabbit, err := tracking.NewRabbitTracking(cfg.RabbitUrl, logger)
		if err != nil {
			logger.Warn("tracking disabled", zap.Error(err))
		} else {
			tracker = rabbit
		}
	}

	s := session.New(api, session.Config{Limit: cfg.PageSize, Context: pageContext},
		session.WithTracker(tracker),
		session.WithLogger(logger),
	)
	s.OnChange("log", func(e session.Event) {
		logger.Debug("session changed", zap.Stringer("kind", e.Kind), zap.Error(e.Err))
	})

	hooks := []common.ShutdownHook{
		func(ctx context.Context) error { return tracker.Close() },
		func(ctx context.Context) error { return metadataCache.Close() },
	}
	closeAll := func() {
		for _, h := range hooks {
			if err := h(ctx); err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		}
	}

	var r pager.Result
	if pageQuery != "" {
		r, err = s.Start(ctx, strings.TrimPrefix(pageQuery, "?"))
	} else {
		s.LoadCategories(ctx)
		if err = stage(ctx, s); err != nil {
			closeAll()
			return err
		}
		r, err = s.Apply(ctx)
	}

	for loaded := 0; err == nil && loaded < pages; loaded++ {
		if r.Outcome == pager.Fetched {
			if err = writeItems(r.Page.Items); err != nil {
				break
			}
		}
		if s.Pager.State() != pager.Idle || loaded+1 >= pages {
			break
		}
		r, err = s.LoadMore(ctx)
	}
	if err != nil {
		logger.Error("listing failed", zap.Error(err), zap.Bool("retryable", session.IsRetryable(err)))
	}
	for _, chip := range s.Chips() {
		logger.Info("active filter", zap.String("chip", chip.Label))
	}
	logger.Info("done", zap.Int("items", len(s.Items())), zap.Stringer("state", s.Pager.State()), zap.String("request", s.Store.Key()))

	if debugAddr == "" {
		closeAll()
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	timeouts := common.LoadTimeoutConfig(common.TimeoutConfig{
		ReadHeader: 5 * time.Second,
		Read:       10 * time.Second,
		Write:      10 * time.Second,
		Idle:       60 * time.Second,
		Shutdown:   15 * time.Second,
		Hook:       5 * time.Second,
	})
	server := common.NewServerWithTimeouts(&http.Server{Addr: debugAddr, Handler: mux}, timeouts)
	return common.RunServerWithShutdown(ctx, logger, server, "browse debug", timeouts.Shutdown, timeouts.Hook, hooks...)
}
