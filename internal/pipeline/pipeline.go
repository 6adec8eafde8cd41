// Package pipeline wires every stage of the aggregator into one runnable
// unit: ingress subscribers, normalizer, dedup cache, enrich chain,
// correlator, sinks, and the supervisor. The wiring style — construct
// each component top-level, gate optional ones on whether their config
// is present, log each step — is grounded on
// control-plane/cmd/server/main.go, condensed into a struct so both
// cmd/idsaggd and tests can build the same graph.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/idsaggd/idsaggd/db/migrate"
	"github.com/idsaggd/idsaggd/internal/archive"
	"github.com/idsaggd/idsaggd/internal/config"
	"github.com/idsaggd/idsaggd/internal/correlator"
	"github.com/idsaggd/idsaggd/internal/dedup"
	"github.com/idsaggd/idsaggd/internal/enrich"
	"github.com/idsaggd/idsaggd/internal/manager"
	"github.com/idsaggd/idsaggd/internal/messaging"
	"github.com/idsaggd/idsaggd/internal/normalizer"
	"github.com/idsaggd/idsaggd/internal/secrets"
	"github.com/idsaggd/idsaggd/internal/sink"
	"github.com/idsaggd/idsaggd/internal/stats"
	"github.com/idsaggd/idsaggd/internal/supervisor"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Pipeline is the fully wired aggregator: ingress subscribers feeding
// the Manager, which owns dedup/enrich/correlate/dispatch.
type Pipeline struct {
	cfg   *config.Config
	log   *slog.Logger
	stats *stats.Counters

	manager     *manager.Manager
	subscribers []ingressSource
	supervisor  *supervisor.Supervisor
	corr        *correlator.Correlator

	sinks []sink.Sink
}

// ingressSource pairs a producer's subscriber with the alert.Source its
// alerts and heartbeats carry, so runIngress can tell the supervisor which
// child just proved itself alive.
type ingressSource struct {
	sub  *messaging.Subscriber
	kind alert.Source
}

// heartbeatEnvelope mirrors producer.Base's liveness-only message (spec
// §3.5) so runIngress can recognize one without routing it through the
// normalizer as a malformed alert.
type heartbeatEnvelope struct {
	Source    alert.Source `json:"source"`
	Heartbeat bool         `json:"heartbeat"`
}

// New builds the full component graph from cfg. Components that own a
// socket, file or timer (dedup eviction, subscribers, publishers, the file
// sink's flush loop, the archive flusher) start their own background
// goroutines here; the worker pool, correlator and ingress loops start in
// Start.
func New(cfg *config.Config, log *slog.Logger) (*Pipeline, error) {
	st := stats.New()

	norm := normalizer.New(log)

	dedupCache, err := dedup.New(dedup.Config{
		Window:     cfg.Manager.DedupWindow(),
		MaxEntries: cfg.Manager.DedupMaxEntries,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("constructing dedup cache: %w", err)
	}

	var enrichSteps []enrich.Step
	if cfg.Secrets.Backend != "" {
		store, err := secrets.New(secrets.Config{Backend: cfg.Secrets.Backend}, log)
		if err != nil {
			log.Warn("threat intel enrichment disabled: secret store unavailable", "error", err)
		} else {
			tiStep, err := enrich.NewThreatIntelStep(context.Background(), store, nil, log)
			if err != nil {
				log.Warn("threat intel enrichment disabled: credential unavailable", "error", err)
			} else {
				enrichSteps = append(enrichSteps, tiStep)
			}
		}
	}
	enrichChain := enrich.NewChain(log, enrichSteps...)

	var corr *correlator.Correlator
	if cfg.Correlator.Enabled {
		corr = correlator.New(correlator.Config{
			Rules:            cfg.Correlator.Rules,
			MaxHistoryWindow: cfg.Correlator.MaxHistoryWindow(),
		}, log)
	} else {
		corr = correlator.New(correlator.Config{Rules: nil, MaxHistoryWindow: time.Minute}, log)
	}

	sinks, err := buildSinks(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("constructing sinks: %w", err)
	}

	mgr := manager.New(manager.Config{
		IntakeCapacity: cfg.Manager.IntakeCapacity,
		WorkerCount:    cfg.Manager.WorkerCount,
		ShutdownGrace:  cfg.Supervisor.ShutdownGrace(),
	}, norm, dedupCache, enrichChain, corr, sinks, st, log)

	subs := make([]ingressSource, 0, len(cfg.Producers))
	for name, p := range cfg.Producers {
		if p.Endpoint == "" {
			continue
		}
		sub := messaging.NewSubscriber(messaging.DefaultSubscriberConfig(p.Endpoint), log.With("producer", name))
		subs = append(subs, ingressSource{sub: sub, kind: sourceForProducer(name)})
	}

	var sup *supervisor.Supervisor
	if len(cfg.Producers) > 0 {
		specs := make([]supervisor.ProcessSpec, 0, len(cfg.Producers))
		for name := range cfg.Producers {
			specs = append(specs, supervisor.ProcessSpec{Name: name, Kind: sourceForProducer(name), Command: commandForProducer(name)})
		}
		sup = supervisor.New(supervisor.Config{
			HeartbeatInterval: cfg.Supervisor.HeartbeatInterval(),
			RestartBackoffMax: cfg.Supervisor.RestartBackoffMax(),
			ShutdownGrace:     cfg.Supervisor.ShutdownGrace(),
		}, specs, st, log)
	}

	return &Pipeline{
		cfg:         cfg,
		log:         log,
		stats:       st,
		manager:     mgr,
		subscribers: subs,
		supervisor:  sup,
		corr:        corr,
		sinks:       sinks,
	}, nil
}

// ReloadRules rereads cfg's correlation rule set from the given config
// file and swaps it into the running correlator, per the reload-config
// command (spec §6.5). A no-op if the correlator is disabled.
func (p *Pipeline) ReloadRules(configPath string) error {
	if !p.cfg.Correlator.Enabled {
		return nil
	}
	newCfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("reloading config: %w", err)
	}
	p.corr.SetRules(newCfg.Correlator.Rules)
	return nil
}

// commandForProducer maps a configured producer name to its thin-binary
// command name, by the cmd/ naming convention of this repository.
func commandForProducer(name string) string {
	switch name {
	case "nids_signature":
		return "nids-signature"
	case "nids_anomaly":
		return "nids-anomaly"
	default:
		return "hids"
	}
}

// sourceForProducer maps a configured producer name to the alert.Source its
// alerts and RunHeartbeat envelopes carry, mirroring commandForProducer's
// binary-name mapping one level down.
func sourceForProducer(name string) alert.Source {
	switch name {
	case "nids_signature":
		return alert.SourceNIDSSignature
	case "nids_anomaly":
		return alert.SourceNIDSAnomaly
	default:
		return alert.SourceHIDSProcess
	}
}

func buildSinks(cfg *config.Config, log *slog.Logger) ([]sink.Sink, error) {
	var sinks []sink.Sink

	if cfg.Sinks.Console.Enabled {
		sinks = append(sinks, sink.NewConsole(os.Stdout))
	}

	if cfg.Sinks.File.Enabled {
		f, err := sink.NewFile(sink.FileConfig{
			Path:          cfg.Sinks.File.Path,
			FlushEveryN:   cfg.Sinks.File.FlushEveryN,
			FlushInterval: cfg.Sinks.File.FlushInterval(),
		}, log)
		if err != nil {
			return nil, fmt.Errorf("opening file sink: %w", err)
		}
		sinks = append(sinks, f)
	}

	if cfg.Sinks.Publisher.Enabled {
		pub, err := messaging.NewPublisher(messaging.DefaultPublisherConfig(cfg.Sinks.Publisher.Endpoint), log)
		if err != nil {
			return nil, fmt.Errorf("starting publisher sink: %w", err)
		}
		sinks = append(sinks, sink.NewPublisher(pub))
	}

	if cfg.Sinks.Archive.Enabled {
		opts, err := redis.ParseURL(cfg.Sinks.Archive.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid archive redis url: %w", err)
		}
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pool, err := pgxpool.New(ctx, cfg.Sinks.Archive.PgxURL)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connecting archive postgres pool: %w", err)
		}

		migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = migrate.Run(migrateCtx, pool, log)
		migrateCancel()
		if err != nil {
			return nil, fmt.Errorf("migrating archive schema: %w", err)
		}

		buf := archive.NewBuffer(client, log)
		flusher := archive.NewFlusher(buf, pool, log)
		sinks = append(sinks, archive.NewSink(buf, flusher))
	}

	return sinks, nil
}

// Start launches every goroutine: ingress receive loops, the manager's
// worker pool and correlator, and (if configured) the supervisor.
func (p *Pipeline) Start(ctx context.Context) {
	p.manager.Start(ctx)

	for _, src := range p.subscribers {
		go p.runIngress(ctx, src)
	}

	if p.supervisor != nil {
		go p.supervisor.Run(ctx)
	}
}

// runIngress forwards one producer's messages to the manager, holding back
// heartbeat envelopes (spec §3.5) so they never reach the normalizer as a
// title-less malformed alert. Any message at all — heartbeat or real alert —
// is proof of life, so both refresh the supervisor's liveness clock for this
// producer before the heartbeat check decides whether to also ingest it.
func (p *Pipeline) runIngress(ctx context.Context, src ingressSource) {
	for {
		msg, err := src.sub.Recv(ctx)
		if err != nil {
			return
		}

		if p.supervisor != nil {
			p.supervisor.RecordHeartbeat(src.kind)
		}

		if isHeartbeat(msg.Payload) {
			continue
		}

		p.manager.Ingest(msg.Payload)
	}
}

// isHeartbeat reports whether payload is a liveness-only envelope (spec
// §3.5) rather than a real alert.
func isHeartbeat(payload []byte) bool {
	var hb heartbeatEnvelope
	return json.Unmarshal(payload, &hb) == nil && hb.Heartbeat
}

// Shutdown drains the manager within its configured grace period and
// closes every ingress subscriber.
func (p *Pipeline) Shutdown() {
	p.manager.Shutdown()
	for _, src := range p.subscribers {
		src.sub.Close()
	}
}

// Stats exposes the running counters for the status command/endpoint.
func (p *Pipeline) Stats() stats.Snapshot { return p.stats.Snapshot() }
