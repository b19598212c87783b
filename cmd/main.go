package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/kenaz/featureflag"
	kenazhttp "github.com/aukilabs/kenaz/http"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/modules"
	"github.com/aukilabs/kenaz/modules/dagaz"
	"github.com/aukilabs/kenaz/smoketest"
	"github.com/aukilabs/kenaz/snapshot"
	kwebsocket "github.com/aukilabs/kenaz/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The Kenaz version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "kenaz_info",
		Help:        "Kenaz information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr           string         `cli:""        env:"KENAZ_ADDR"            help:"Listening address for client requests."`
	AdminAddr      string         `cli:""        env:"KENAZ_ADMIN_ADDR"      help:"Admin listening address."`
	PublicEndpoint string         `cli:""        env:"KENAZ_PUBLIC_ENDPOINT" help:"The public endpoint where this Kenaz server is reachable."`
	APIToken       string         `cli:""        env:"KENAZ_API_TOKEN"       help:"The bearer token required to modify spaces. Empty disables the verification."`
	LogLevel       string         `cli:""        env:"KENAZ_LOG_LEVEL"       help:"Log level (debug|info|warning|error)."`
	LogIndent      bool           `cli:""        env:"KENAZ_LOG_INDENT"      help:"Indent logs."`
	Snapshot       snapshotConfig `cli:""        env:"-"                     help:"Snapshot configuration."`
	Stream         streamConfig   `cli:",hidden" env:"-"                     help:"Stream configuration."`
	Events         eventsConfig   `cli:",hidden" env:"-"                     help:"Event pusher configuration."`
	FeatureFlags   []string       `cli:",hidden" env:"KENAZ_FEATURE_FLAGS"   help:"Comma separated feature flags"`
	Version        bool           `cli:""        env:"-"                     help:"Show version."`
	Help           bool           `cli:""        env:"-"                     help:"Show help."`
}

type snapshotConfig struct {
	Dir      string        `cli:"" env:"KENAZ_SNAPSHOT_DIR"      help:"The directory where spaces are saved. Empty disables snapshots."`
	Interval time.Duration `cli:"" env:"KENAZ_SNAPSHOT_INTERVAL" help:"The duration between each save of all the spaces. Zero only saves on shutdown."`
	Level    string        `cli:"" env:"KENAZ_SNAPSHOT_LEVEL"    help:"Snapshot compression level (fastest|default|better|best)."`
}

type streamConfig struct {
	DefaultBatchSize   int           `cli:",hidden" env:"KENAZ_STREAM_DEFAULT_BATCH_SIZE"   help:"The number of points sent per message when a request does not set it."`
	MaxBatchSize       int           `cli:",hidden" env:"KENAZ_STREAM_MAX_BATCH_SIZE"       help:"The maximum number of points sent per message."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"KENAZ_STREAM_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected"`
	WriteTimeout       time.Duration `cli:",hidden" env:"KENAZ_STREAM_WRITE_TIMEOUT"        help:"The time allowed to send a message."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"KENAZ_STREAM_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"KENAZ_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"KENAZ_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"KENAZ_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"KENAZ_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:           ":4100",
		AdminAddr:      ":18191",
		PublicEndpoint: "http://localhost:4100",
		LogLevel:       logs.InfoLevel.String(),
		Snapshot: snapshotConfig{
			Interval: time.Minute * 5,
			Level:    "default",
		},
		Stream: streamConfig{
			DefaultBatchSize:   kwebsocket.DefaultBatchSize,
			MaxBatchSize:       kwebsocket.DefaultMaxBatchSize,
			ClientIdleTimeout:  time.Minute * 5,
			WriteTimeout:       time.Second * 10,
			LogSummaryInterval: time.Minute,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Kenaz server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "kenaz",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)
	spaces := models.SpaceStore{
		FeatureFlags: featureFlags,
	}

	var snapshots *snapshot.Store
	if conf.Snapshot.Dir != "" {
		_, level := zstd.EncoderLevelFromString(conf.Snapshot.Level)
		snapshots = &snapshot.Store{
			Dir:   conf.Snapshot.Dir,
			Level: level,
		}

		featureFlags.IfNotSet(featureflag.FlagDisableSnapshotRestore, func() {
			restoreSpaces(snapshots, &spaces)
		})
	}

	var ready atomic.Bool
	readinessCheck := ready.Load

	api := kenazhttp.API{
		Spaces:    &spaces,
		Snapshots: snapshots,
		NewModules: func() []modules.Module {
			return []modules.Module{
				&dagaz.Module{},
			}
		},
	}

	var apiMux http.ServeMux
	api.Register(&apiMux)
	apiMux.Handle("GET /spaces/{id}/stream", &kwebsocket.Server{
		Spaces:             &spaces,
		FeatureFlags:       featureFlags,
		DefaultBatchSize:   conf.Stream.DefaultBatchSize,
		MaxBatchSize:       conf.Stream.MaxBatchSize,
		ClientIdleTimeout:  conf.Stream.ClientIdleTimeout,
		WriteTimeout:       conf.Stream.WriteTimeout,
		LogSummaryInterval: conf.Stream.LogSummaryInterval,
		Context:            ctx,
	})

	apiMux.HandleFunc("POST /smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("Kenaz %s", version),
		Transport: transport,
		SendResult: func(ctx context.Context, res smoketest.Results) error {
			logs.WithTag("from_endpoint", res.FromEndpoint).
				WithTag("to_endpoint", res.ToEndpoint).
				WithTag("status", res.Status).
				WithTag("latency_ms", res.LatencyMilliSec).
				WithTag("error", res.Error).
				Info("smoke test done")
			return nil
		},
	}))

	var service http.ServeMux
	service.Handle("/health", kenazhttp.HandleWithCORS(http.HandlerFunc(kenazhttp.HandleHealthCheck)))
	service.Handle("/ready", kenazhttp.HandleWithCORS(kenazhttp.HandleReadyCheck(readinessCheck)))
	service.Handle("/version", kenazhttp.HandleWithCORS(kenazhttp.HandleVersion(version)))
	service.Handle("/", kenazhttp.HandleWithCORS(kenazhttp.VerifyAuthTokenHandler(conf.APIToken, &apiMux)))

	var wg sync.WaitGroup
	if snapshots != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			saveSpaces(ctx, snapshots, &spaces, conf.Snapshot.Interval)
		}()
	}

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", kenazhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", kenazhttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("snapshot_dir", conf.Snapshot.Dir).
		WithTag("spaces", spaces.Len()).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting kenaz server")

	ready.Store(true)
	kenazhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			kenazhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	// Unblocks the snapshot worker when the servers stopped on their own.
	cancel()
	wg.Wait()
}

func restoreSpaces(snapshots *snapshot.Store, spaces *models.SpaceStore) {
	restored, err := snapshots.LoadSpaces()
	if err != nil {
		logs.Fatal(errors.New("restoring spaces failed").
			WithTag("dir", snapshots.Dir).
			Wrap(err))
	}

	for _, space := range restored {
		if err := spaces.Add(space); err != nil {
			logs.Warn(errors.New("adding restored space failed").
				WithTag("space_id", space.ID).
				Wrap(err))
		}
	}

	logs.WithTag("dir", snapshots.Dir).
		WithTag("spaces", spaces.Len()).
		Info("spaces restored")
}

// saveSpaces saves the spaces every interval until ctx is canceled, then
// saves them one last time.
func saveSpaces(ctx context.Context, snapshots *snapshot.Store, spaces *models.SpaceStore, interval time.Duration) {
	save := func(ctx context.Context) {
		start := time.Now()
		list := spaces.List()

		if err := snapshots.SaveSpaces(ctx, list); err != nil {
			logs.Error(errors.New("saving spaces failed").
				WithTag("dir", snapshots.Dir).
				Wrap(err))
			return
		}

		logs.WithTag("spaces", len(list)).
			WithTag("duration", time.Since(start)).
			Debug("spaces saved")
	}

	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop

			case <-ticker.C:
				save(ctx)
			}
		}
	} else {
		<-ctx.Done()
	}

	save(context.Background())
	logs.WithTag("dir", snapshots.Dir).Info("spaces saved on shutdown")
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.Snapshot.Dir != "" {
		if ok, _ := zstd.EncoderLevelFromString(conf.Snapshot.Level); !ok {
			return errors.New("invalid snapshot level").
				WithTag("level", conf.Snapshot.Level)
		}
	}

	if conf.Stream.DefaultBatchSize < 1 {
		return errors.New("stream default batch size must be at least 1").
			WithTag("batch_size", conf.Stream.DefaultBatchSize)
	}

	if conf.Stream.MaxBatchSize < conf.Stream.DefaultBatchSize {
		return errors.New("stream max batch size must not be lower than the default batch size").
			WithTag("max_batch_size", conf.Stream.MaxBatchSize).
			WithTag("default_batch_size", conf.Stream.DefaultBatchSize)
	}

	if conf.Snapshot.Interval < 0 {
		return errors.New("snapshot interval must not be negative").
			WithTag("interval", conf.Snapshot.Interval)
	}
	return nil
}
