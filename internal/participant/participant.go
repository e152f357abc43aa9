// Package participant wires one RTPS participant host: the history cache,
// matched-reader registry, a delivery engine, the async sender, the
// writer liveliness protocol, durability, and the ambient
// logging/metrics/tracing/admin-http stack, behind a single blocking
// Run call shared by cmd/rtpsd and rtpsctl's "run" subcommand.
package participant

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/odin-rtps/corewriter/internal/adminhttp"
	"github.com/odin-rtps/corewriter/internal/config"
	"github.com/odin-rtps/corewriter/internal/logging"
	"github.com/odin-rtps/corewriter/internal/metrics"
	"github.com/odin-rtps/corewriter/internal/resourceguard"
	"github.com/odin-rtps/corewriter/internal/tracing"
	"github.com/odin-rtps/corewriter/pkg/rtps/archive"
	"github.com/odin-rtps/corewriter/pkg/rtps/asyncsend"
	"github.com/odin-rtps/corewriter/pkg/rtps/durability"
	"github.com/odin-rtps/corewriter/pkg/rtps/durability/badgerstore"
	"github.com/odin-rtps/corewriter/pkg/rtps/durability/pgstore"
	"github.com/odin-rtps/corewriter/pkg/rtps/flowcontrol"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/history"
	"github.com/odin-rtps/corewriter/pkg/rtps/locator"
	"github.com/odin-rtps/corewriter/pkg/rtps/reader"
	"github.com/odin-rtps/corewriter/pkg/rtps/security"
	"github.com/odin-rtps/corewriter/pkg/rtps/transport"
	"github.com/odin-rtps/corewriter/pkg/rtps/wlp"
	"github.com/odin-rtps/corewriter/pkg/rtps/writer"
)

// Run loads configuration from configDir, wires every component, and
// blocks until it receives SIGINT/SIGTERM. It is a demonstration host,
// not a wire-compatible participant against a real UDP transport — see
// pkg/rtps/transport's Loopback for why.
func Run(configDir string) error {
	undoMaxProcs, err := maxprocs.Set()
	defer undoMaxProcs()
	if err != nil {
		return fmt.Errorf("set GOMAXPROCS: %w", err)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Domain.ParticipantName,
		ServiceVersion: "dev",
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, nil)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	reg := metrics.NewRegistry()

	guard := resourceguard.New(resourceguard.Config{}, log)
	guard.Start(ctx)
	defer guard.Stop()

	store, closeStore, err := openDurability(cfg.Durability)
	if err != nil {
		return fmt.Errorf("open durability store: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	archiver, closeArchiver, err := openArchiver(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("open archiver: %w", err)
	}
	if closeArchiver != nil {
		defer closeArchiver()
	}

	var plugin security.Plugin = security.NoPlugin{}
	if cfg.Security.Enabled {
		plugin = security.NewJWTPairing(cfg.Security.SecretKey, cfg.Security.Domain, cfg.Security.TokenDuration)
	}

	sender := asyncsend.New(log, time.Now)
	sender.Start(cfg.AsyncSend.WorkerCount)
	defer sender.Stop()

	var protocol *wlp.Protocol
	if cfg.WLP.NatsURL != "" {
		bus, err := wlp.NewNatsBus(wlp.NatsBusConfig{URL: cfg.WLP.NatsURL}, log)
		if err != nil {
			return fmt.Errorf("connect wlp bus: %w", err)
		}
		defer bus.Close()

		livelinessManager := wlp.NewLivelinessManager(&livelinessLogAdapter{reg: reg}, log)
		go livelinessManager.RunExpiryLoop(cfg.WLP.AutomaticLeaseDuration / 2)
		defer livelinessManager.Stop()

		prefix := guid.Prefix{}
		copy(prefix[:], []byte(cfg.Domain.ParticipantName))
		protocol = wlp.NewProtocol(prefix, bus, livelinessManager, log)
		if err := protocol.Start(); err != nil {
			return fmt.Errorf("start wlp protocol: %w", err)
		}
		defer protocol.Stop()
	}

	lb := transport.NewLoopback()
	defer lb.Close()
	loc := locator.NewUDPv4(net.ParseIP("127.0.0.1"), 7400)

	writerGUID := guid.GUID{Entity: guid.EntityID{1, 0, 0, 0}}
	hc := history.New(history.Attributes{History: history.KeepAll, MaxSamples: 1024}, nil)
	mrr := reader.NewStatelessRegistry(reader.Attrs{Initial: 8, Maximum: 256, Increment: 8}, nil)

	var liveliness writer.LivelinessAsserter = noopLiveliness{}
	if protocol != nil {
		liveliness = protocol
		protocol.RegisterWriter(writerGUID.Entity, wlp.Automatic, cfg.WLP.AutomaticLeaseDuration)
	}

	engine := writer.NewStatelessEngine(writer.StatelessConfig{
		GUID: writerGUID,
		HC:   hc,
		MRR:  mrr,
		Sender: writer.NewSender(func(ctx context.Context, payload []byte, l locator.Locator, deadline time.Time) (bool, error) {
			res, err := lb.Send(ctx, payload, l, deadline)
			return res == transport.SendOK, err
		}),
		Liveliness:      liveliness,
		Controllers:     flowcontrol.Chain{Controllers: []flowcontrol.Controller{flowcontrol.NewThroughput(1 << 20, 1 << 18)}},
		Mode:            writer.Asynchronous,
		SendingMode:     writer.Combined,
		MaxBlockingTime: 200 * time.Millisecond,
		Log:             log,
	})
	engine.SetWakeFunc(func(deadline time.Time) { sender.WakeUp(engine, deadline) })
	sender.RegisterWriter(engine)
	defer sender.UnregisterWriter(engine)

	log.Info("writer dependencies ready",
		zap.Bool("durability_enabled", store != nil),
		zap.Bool("archive_enabled", archiver != nil),
		zap.Bool("security_enabled", cfg.Security.Enabled),
		zap.String("locator", loc.String()),
	)
	_ = plugin // installed on the participant's security manager once entity discovery is wired
	reg.AsyncSendPending.Set(1)

	ops := &writerOps{hc: hc, protocol: protocol, writerGUID: writerGUID}
	admin := adminhttp.New(cfg.AdminHTTP.Address, log, alwaysHealthy{}, reg.Handler(), cfg.Metrics.Path, ops)
	go func() {
		if err := admin.ListenAndServe(); err != nil {
			log.Error("admin http server exited", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		admin.Shutdown(shutdownCtx)
	}()

	log.Info("rtpsd started",
		zap.String("participant", cfg.Domain.ParticipantName),
		zap.Int("domain_id", cfg.Domain.DomainID),
		zap.String("writer_guid", writerGUID.String()),
	)

	<-ctx.Done()
	log.Info("rtpsd shutting down")
	return nil
}

func openDurability(cfg config.DurabilityConfig) (durability.Store, func(), error) {
	switch cfg.Backend {
	case config.DurabilityBackendBadger:
		s, err := badgerstore.Open(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DurabilityBackendPostgres:
		s, err := pgstore.Open(pgstore.Config{
			Host:        cfg.PostgresDSN.Host,
			Port:        cfg.PostgresDSN.Port,
			Database:    cfg.PostgresDSN.Database,
			User:        cfg.PostgresDSN.User,
			Password:    cfg.PostgresDSN.Password,
			SSLMode:     cfg.PostgresDSN.SSLMode,
			AutoMigrate: cfg.AutoMigrate,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, nil
	}
}

func openArchiver(ctx context.Context, cfg config.ArchiveConfig) (archive.Archiver, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	client, err := archive.NewS3ClientFromConfig(ctx, cfg.Endpoint, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey, cfg.ForcePathStyle)
	if err != nil {
		return nil, nil, err
	}
	a, err := archive.NewS3Archiver(ctx, archive.Config{Client: client, Bucket: cfg.Bucket, KeyPrefix: cfg.KeyPrefix})
	if err != nil {
		return nil, nil, err
	}
	return a, func() { a.Close() }, nil
}

// writerOps implements adminhttp.Ops against the running writer engine,
// letting rtpsctl trigger a manual liveliness assertion or discard the
// history cache's held changes over HTTP.
type writerOps struct {
	hc         *history.Cache
	protocol   *wlp.Protocol
	writerGUID guid.GUID
}

func (o *writerOps) AssertLiveliness() error {
	if o.protocol == nil {
		return fmt.Errorf("writer liveliness protocol is not configured (wlp.nats_url unset)")
	}
	o.protocol.AssertWriterLiveliness(o.writerGUID, time.Now())
	return nil
}

func (o *writerOps) ResetHistory() error {
	o.hc.Clear()
	return nil
}

type noopLiveliness struct{}

func (noopLiveliness) AssertWriterLiveliness(guid.GUID, time.Time) {}

type alwaysHealthy struct{}

func (alwaysHealthy) Healthy() bool { return true }

// livelinessLogAdapter bridges wlp.LivelinessManager's lost/recovered
// callbacks to the Prometheus counters in internal/metrics.
type livelinessLogAdapter struct {
	reg *metrics.Registry
}

func (a *livelinessLogAdapter) OnLivelinessLost(guid.GUID)      { a.reg.LivelinessLost.Inc() }
func (a *livelinessLogAdapter) OnLivelinessRecovered(guid.GUID) { a.reg.LivelinessRecovered.Inc() }
