// Package supervisor wires every collaborator from spec §2 together into a
// single oklog/run group and runs until signalled or a fatal fault occurs,
// matching the actor/interrupt pattern cmd/config-reloader uses for its
// reloader, metrics server and signal handling.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/waggle-sensor/wes-data-sharing-service/internal/broker"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/config"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/handler"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/meta"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/metasource"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/metasource/podwatch"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/metasource/rediscache"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/metrics"
	podevents "github.com/waggle-sensor/wes-data-sharing-service/internal/podwatch"
)

const (
	consumerTag         = "wes-data-sharing-service"
	reconnectWait       = 2 * time.Second
	expirySweepInterval = 10 * time.Second
	podEventDrainPeriod = time.Second
)

// switchablePublisher lets the handler keep a stable Publisher reference
// across reconnects: each new broker connection swaps in a fresh channel
// without the handler or backlog engine needing to be rebuilt.
type switchablePublisher struct {
	mu  sync.RWMutex
	cur broker.Publisher
}

func (p *switchablePublisher) set(cur broker.Publisher) {
	p.mu.Lock()
	p.cur = cur
	p.mu.Unlock()
}

func (p *switchablePublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, persistent bool) error {
	p.mu.RLock()
	cur := p.cur
	p.mu.RUnlock()
	if cur == nil {
		return fmt.Errorf("%w: not connected", handler.ErrTransportFault)
	}
	return cur.Publish(ctx, exchange, routingKey, body, persistent)
}

// Run builds the configured metadata-binding variant, the handler, and the
// supervising run.Group, then blocks until SIGINT/SIGTERM or a fatal fault.
func Run(cfg config.Config, logger log.Logger, m *metrics.Metrics) error {
	sysMeta := meta.NewSystem(cfg.Node, cfg.VSN)
	handlerCfg := handler.Config{
		UploadPublishName:  cfg.UploadPublishName,
		SystemUsers:        cfg.SystemUsers,
		SystemMeta:         sysMeta,
		DstExchangeNode:    cfg.DstExchangeNode,
		DstExchangeBeehive: cfg.DstExchangeBeehive,
		Debug:              cfg.Debug,
	}
	publisher := &switchablePublisher{}

	var g run.Group
	ctx, cancel := context.WithCancel(context.Background())

	var engine *podwatch.Engine
	var watcher *podevents.Watcher
	var binder metasource.Binder

	if cfg.BacklogBinding {
		kube, err := buildKubeClient(cfg.KubeConfig)
		if err != nil {
			cancel()
			return fmt.Errorf("building kubernetes client: %w", err)
		}

		// replayTo is resolved to h.Replay below, after h is built -- the
		// engine must exist before the handler (the handler needs a
		// Binder), and the handler must exist before the engine has a
		// real replay target, so the indirection breaks the cycle.
		var replayTo podwatch.ReplayFunc
		engine = podwatch.NewEngine(podwatch.Config{
			PodTTL:            cfg.PodExpireDuration,
			PodWithoutMetaTTL: cfg.PodWithoutMetadataExpireDuration,
		}, func(ctx context.Context, d broker.Delivery, am meta.Application) {
			replayTo(ctx, d, am)
		}, m)
		b := podwatch.NewBinder(engine)
		binder = b

		watcher = podevents.New(ctx, kube, logger, m)

		h := handler.New(handlerCfg, binder, publisher, m, logger)
		replayTo = h.Replay

		addConsumeActor(&g, ctx, cancel, cfg, logger, publisher, h, engine, watcher)
		addExpiryActor(&g, ctx, logger, engine)
		addPodEventDrainActor(&g, ctx, logger, engine, watcher)
		addWatcherTerminalActor(&g, ctx, logger, watcher)
	} else {
		source, err := rediscache.New(fmt.Sprintf("%s:%d", cfg.AppMetaCacheHost, cfg.AppMetaCachePort), 0)
		if err != nil {
			cancel()
			return fmt.Errorf("building metadata cache source: %w", err)
		}
		defer source.Close()
		binder = source

		h := handler.New(handlerCfg, binder, publisher, m, logger)
		addConsumeActor(&g, ctx, cancel, cfg, logger, publisher, h, nil, nil)
	}

	addMetricsActor(&g, logger, m, cfg)
	addSignalActor(&g, ctx, cancel, logger)

	return g.Run()
}

func buildKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

func addMetricsActor(g *run.Group, logger log.Logger, m *metrics.Metrics, cfg config.Config) {
	addr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	g.Add(func() error {
		level.Info(logger).Log("msg", "starting metrics server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
}

func addSignalActor(g *run.Group, ctx context.Context, cancel context.CancelFunc, logger log.Logger) {
	term := make(chan os.Signal, 1)
	signal.Notify(term, os.Interrupt, syscall.SIGTERM)

	g.Add(func() error {
		select {
		case sig := <-term:
			level.Info(logger).Log("msg", "received signal, shutting down", "signal", sig)
		case <-ctx.Done():
		}
		return nil
	}, func(error) {
		signal.Stop(term)
		cancel()
	})
}

func addWatcherTerminalActor(g *run.Group, ctx context.Context, logger log.Logger, watcher *podevents.Watcher) {
	g.Add(func() error {
		select {
		case <-watcher.Terminal():
			level.Error(logger).Log("msg", "pod watcher terminated", "err", handler.ErrWatcherTerminal)
			return handler.ErrWatcherTerminal
		case <-ctx.Done():
			return nil
		}
	}, func(error) {})
}

func addExpiryActor(g *run.Group, ctx context.Context, logger log.Logger, engine *podwatch.Engine) {
	stop := make(chan struct{})
	g.Add(func() error {
		ticker := time.NewTicker(expirySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				engine.Sweep()
			case <-ctx.Done():
				return nil
			case <-stop:
				return nil
			}
		}
	}, func(error) { close(stop) })
}

func addPodEventDrainActor(g *run.Group, ctx context.Context, logger log.Logger, engine *podwatch.Engine, watcher *podevents.Watcher) {
	stop := make(chan struct{})
	g.Add(func() error {
		ticker := time.NewTicker(podEventDrainPeriod)
		defer ticker.Stop()
		var pending []podevents.Pod
		for {
			select {
			case pod, ok := <-watcher.Events():
				if !ok {
					return nil
				}
				pending = append(pending, pod)
			case <-ticker.C:
				for _, pod := range pending {
					engine.HandlePodEvent(ctx, pod.UID, podwatch.BuildApplicationMetadata(pod))
				}
				pending = nil
			case <-ctx.Done():
				return nil
			case <-stop:
				return nil
			}
		}
	}, func(error) { close(stop) })
}

func addConsumeActor(
	g *run.Group,
	ctx context.Context,
	cancel context.CancelFunc,
	cfg config.Config,
	logger log.Logger,
	publisher *switchablePublisher,
	h *handler.Handler,
	engine *podwatch.Engine,
	watcher *podevents.Watcher,
) {
	stop := make(chan struct{})
	g.Add(func() error {
		for {
			if ctx.Err() != nil {
				return nil
			}
			err := runOneConnection(ctx, cfg, logger, publisher, h, stop)
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				return nil
			}
			level.Warn(logger).Log("msg", "broker connection lost, reconnecting", "err", err)
			if engine != nil {
				engine.Reset()
			}
			select {
			case <-time.After(reconnectWait):
			case <-ctx.Done():
				return nil
			case <-stop:
				return nil
			}
		}
	}, func(error) {
		close(stop)
		cancel()
	})
}

func runOneConnection(
	ctx context.Context,
	cfg config.Config,
	logger log.Logger,
	publisher *switchablePublisher,
	h *handler.Handler,
	stop <-chan struct{},
) error {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.RabbitMQUsername, cfg.RabbitMQPassword, cfg.RabbitMQHost, cfg.RabbitMQPort)
	topo := broker.Topology{
		SrcQueue:           cfg.SrcQueue,
		DstExchangeBeehive: cfg.DstExchangeBeehive,
		DstExchangeNode:    cfg.DstExchangeNode,
	}

	conn, ch, err := broker.Connect(url, topo)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer conn.Close()

	deliveries, err := broker.Consume(ch, cfg.SrcQueue, consumerTag)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}
	publisher.set(broker.NewChannelPublisher(ch))
	defer publisher.set(nil)

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consumer channel closed")
			}
			if err := h.Handle(ctx, d); err != nil {
				if errors.Is(err, handler.ErrTransportFault) {
					// Spec §4.1: a publish/ack transport fault tears the
					// connection down; the delivery is left unacked for
					// the broker to redeliver after reconnect.
					return err
				}
				level.Debug(logger).Log("msg", "handle returned", "err", err)
			}
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		}
	}
}
