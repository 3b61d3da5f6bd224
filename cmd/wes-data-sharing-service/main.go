package main

import (
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/waggle-sensor/wes-data-sharing-service/internal/config"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/metrics"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/supervisor"
)

func main() {
	app := kingpin.New("wes-data-sharing-service", "Per-node message enrichment and fan-out service for the Waggle/SAGE data plane.")

	debug := app.Flag("debug", "Enable verbose logging.").
		Default("false").Envar("DEBUG").Bool()

	uploadPublishName := app.Flag("upload-publish-name", "Message name rewritten into the canonical upload URL form.").
		Default("upload").Envar("UPLOAD_PUBLISH_NAME").String()

	rabbitmqHost := app.Flag("rabbitmq-host", "RabbitMQ broker host.").
		Default("localhost").Envar("RABBITMQ_HOST").String()
	rabbitmqPort := app.Flag("rabbitmq-port", "RabbitMQ broker port.").
		Default("5672").Envar("RABBITMQ_PORT").Int()
	rabbitmqUsername := app.Flag("rabbitmq-username", "RabbitMQ broker username.").
		Default("guest").Envar("RABBITMQ_USERNAME").String()
	rabbitmqPassword := app.Flag("rabbitmq-password", "RabbitMQ broker password.").
		Default("guest").Envar("RABBITMQ_PASSWORD").String()

	appMetaCacheHost := app.Flag("app-meta-cache-host", "Application metadata cache host.").
		Default("localhost").Envar("APP_META_CACHE_HOST").String()
	appMetaCachePort := app.Flag("app-meta-cache-port", "Application metadata cache port.").
		Default("6379").Envar("APP_META_CACHE_PORT").Int()

	node := app.Flag("waggle-node-id", "System metadata: node ID.").
		Envar("WAGGLE_NODE_ID").Required().String()
	vsn := app.Flag("waggle-node-vsn", "System metadata: node VSN.").
		Envar("WAGGLE_NODE_VSN").Required().String()

	metricsHost := app.Flag("metrics-host", "Host interface for the metrics HTTP endpoint.").
		Default("").Envar("METRICS_HOST").String()
	metricsPort := app.Flag("metrics-port", "Port for the metrics HTTP endpoint.").
		Default("8080").Envar("METRICS_PORT").Int()

	srcQueue := app.Flag("src-queue", "Validated-ingress source queue.").
		Default("to-validator").Envar("SRC_QUEUE").String()
	dstExchangeBeehive := app.Flag("dst-exchange-beehive", "Cloud-bound beehive fanout exchange.").
		Default("to-beehive").Envar("DST_EXCHANGE_BEEHIVE").String()
	dstExchangeNode := app.Flag("dst-exchange-node", "Node-local topic exchange.").
		Default("data.topic").Envar("DST_EXCHANGE_NODE").String()

	systemUsers := app.Flag("system-users", "Whitespace-separated broker usernames whose messages bypass application-metadata lookup.").
		Default("").Envar("SYSTEM_USERS").String()

	backlogBinding := app.Flag("backlog-binding", "Use the legacy pod-event backlog metadata binding instead of the cache binding.").
		Default("false").Envar("BACKLOG_BINDING").Bool()
	podExpireDuration := app.Flag("pod-expire-duration", "(Backlog binding) TTL for a bound pod state.").
		Default("2h").Envar("POD_EXPIRE_DURATION").Duration()
	podWithoutMetadataExpireDuration := app.Flag("pod-without-metadata-expire-duration", "(Backlog binding) TTL for a pod state waiting on metadata.").
		Default("5m").Envar("POD_WITHOUT_METADATA_EXPIRE_DURATION").Duration()
	kubeconfig := app.Flag("kubeconfig", "(Backlog binding) path to a kubeconfig file; in-cluster config is used when unset.").
		Default("").Envar("KUBECONFIG").String()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)
	if *debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	cfg := config.Config{
		Debug:             *debug,
		UploadPublishName: *uploadPublishName,

		RabbitMQHost:     *rabbitmqHost,
		RabbitMQPort:     *rabbitmqPort,
		RabbitMQUsername: *rabbitmqUsername,
		RabbitMQPassword: *rabbitmqPassword,

		AppMetaCacheHost: *appMetaCacheHost,
		AppMetaCachePort: *appMetaCachePort,

		Node: *node,
		VSN:  *vsn,

		MetricsHost: *metricsHost,
		MetricsPort: *metricsPort,

		SrcQueue:           *srcQueue,
		DstExchangeBeehive: *dstExchangeBeehive,
		DstExchangeNode:    *dstExchangeNode,

		SystemUsers: config.ParseSystemUsers(*systemUsers),

		BacklogBinding:                   *backlogBinding,
		PodExpireDuration:                *podExpireDuration,
		PodWithoutMetadataExpireDuration: *podWithoutMetadataExpireDuration,

		KubeConfig: *kubeconfig,
	}

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	m := metrics.New()

	level.Info(logger).Log("msg", "starting wes-data-sharing-service",
		"backlog_binding", cfg.BacklogBinding, "node", cfg.Node, "vsn", cfg.VSN,
		"startup_time", time.Now().Format(time.RFC3339))

	if err := supervisor.Run(cfg, logger, m); err != nil {
		level.Error(logger).Log("msg", "exiting", "err", err)
		os.Exit(1)
	}
}
