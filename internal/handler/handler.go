// Package handler implements the per-delivery state machine: validate
// envelope, bind application metadata, merge, rewrite uploads, fan out, and
// acknowledge. It is the only package that sees every delivery.
package handler

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/waggle-sensor/wes-data-sharing-service/internal/broker"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/enrich"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/meta"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/metasource"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/wesmsg"
)

// bodyPreviewLimit bounds the reject-log body preview (spec §7: "a
// truncated body preview").
const bodyPreviewLimit = 256

// Counters is the subset of the metrics the handler updates directly.
type Counters interface {
	IncTotal()
	IncRejected()
	IncPublishedNode()
	IncPublishedBeehive()
}

// Config holds the handler's own view of the service configuration: the
// fields of internal/config.Config it actually reads.
type Config struct {
	UploadPublishName  string
	SystemUsers        map[string]struct{}
	SystemMeta         meta.System
	DstExchangeNode    string
	DstExchangeBeehive string
	Debug              bool
}

// Handler implements handle(delivery) from spec §4.1. Handle is called from
// the consumer loop; with the backlog binding, Replay is called from the
// pod-event drain goroutine, so process can run on both goroutines.
type Handler struct {
	cfg       Config
	binder    metasource.Binder
	publisher broker.Publisher
	counters  Counters
	logger    log.Logger
}

// New builds a Handler. binder resolves application metadata for a
// producer UID (either the cache-binding or backlog-binding variant);
// publisher fans out to the node and beehive exchanges.
func New(cfg Config, binder metasource.Binder, publisher broker.Publisher, counters Counters, logger log.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		binder:    binder,
		publisher: publisher,
		counters:  counters,
		logger:    logger,
	}
}

// Handle consumes exactly one delivery, per spec §4.1. By the time Handle
// returns, exactly one of ack or reject has been issued on d unless the
// binder took ownership of d for its backlog (BindPending), in which case
// the binder itself will ack or reject it later, or unless publishing, acking
// or rejecting failed. In that last case the returned error wraps
// ErrTransportFault, d is left unacked, and the caller is expected to tear
// the connection down so the broker redelivers d. Any other returned error is
// informational only -- appropriate handling has already happened.
func (h *Handler) Handle(ctx context.Context, d broker.Delivery) error {
	h.counters.IncTotal()

	// Step 1: envelope validation -- identify the producer.
	systemUser := d.ProducerUser != "" && h.isSystemUser(d.ProducerUser)
	if d.ProducerUID == "" && !systemUser {
		return h.reject(d, fmt.Errorf("%w: no producer UID or trusted user", ErrUnidentifiedProducer))
	}

	// Step 2: decode.
	msg, err := wesmsg.Decode(d.Body)
	if err != nil {
		return h.reject(d, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err))
	}

	if h.cfg.Debug {
		level.Debug(h.logger).Log("msg", "decoded delivery", "raw_bytes", len(d.Body), "name", msg.Name)
	}

	// Step 3: metadata binding.
	var appMeta meta.Application
	if !systemUser {
		var result metasource.BindResult
		appMeta, result = h.binder.Bind(ctx, d.ProducerUID, d)
		switch result {
		case metasource.BindPending:
			// Ownership of d has passed to the binder's backlog; it will
			// ack or reject it once metadata binds or the state expires.
			return nil
		case metasource.BindMiss:
			return h.reject(d, fmt.Errorf("%w: producer %q", ErrUnknownApplication, d.ProducerUID))
		}
	}

	return h.process(ctx, d, msg, appMeta)
}

// process runs steps 4-7 of the handler contract: merge, rewrite, fan out,
// acknowledge. It is exported indirectly as the ReplayFunc the backlog
// engine invokes once metadata binds for a previously-pending delivery.
func (h *Handler) process(ctx context.Context, d broker.Delivery, msg wesmsg.Message, appMeta meta.Application) error {
	enriched, err := enrich.Enrich(msg, appMeta, h.cfg.SystemMeta, h.cfg.UploadPublishName)
	if err != nil {
		return h.reject(d, fmt.Errorf("%w: %v", ErrInvalidUploadMessage, err))
	}

	body, err := wesmsg.Encode(enriched)
	if err != nil {
		return h.reject(d, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err))
	}

	scope := broker.Scope(d.RoutingKey)
	if scope != broker.ScopeNode && scope != broker.ScopeBeehive && scope != broker.ScopeAll {
		return h.reject(d, fmt.Errorf("%w: %q", ErrUnknownScope, d.RoutingKey))
	}

	// Node publish precedes beehive publish when scope is "all" (spec §5).
	if scope == broker.ScopeNode || scope == broker.ScopeAll {
		if err := h.publisher.Publish(ctx, h.cfg.DstExchangeNode, enriched.Name, body, false); err != nil {
			return fmt.Errorf("%w: node publish: %v", ErrTransportFault, err)
		}
		h.counters.IncPublishedNode()
	}
	if scope == broker.ScopeBeehive || scope == broker.ScopeAll {
		if err := h.publisher.Publish(ctx, h.cfg.DstExchangeBeehive, enriched.Name, body, true); err != nil {
			return fmt.Errorf("%w: beehive publish: %v", ErrTransportFault, err)
		}
		h.counters.IncPublishedBeehive()
	}

	if err := d.Ack(); err != nil {
		return fmt.Errorf("%w: ack: %v", ErrTransportFault, err)
	}
	return nil
}

// Replay implements metasource/podwatch.ReplayFunc: it runs steps 4-7 for a
// delivery that had been held in the backlog. Ack/reject failures are only
// logged -- there is no handler loop left to propagate a transport fault to
// for an already-detached replay.
func (h *Handler) Replay(ctx context.Context, d broker.Delivery, appMeta meta.Application) {
	msg, err := wesmsg.Decode(d.Body)
	if err != nil {
		err = h.reject(d, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err))
	} else {
		err = h.process(ctx, d, msg, appMeta)
	}
	if err != nil {
		level.Warn(h.logger).Log("msg", "replayed delivery failed", "err", err)
	}
}

func (h *Handler) isSystemUser(user string) bool {
	_, ok := h.cfg.SystemUsers[user]
	return ok
}

func (h *Handler) reject(d broker.Delivery, cause error) error {
	h.counters.IncRejected()
	h.logReject(d, cause)
	if err := d.Reject(); err != nil {
		return fmt.Errorf("%w: reject: %v", ErrTransportFault, err)
	}
	return cause
}

func (h *Handler) logReject(d broker.Delivery, cause error) {
	preview := d.Body
	if len(preview) > bodyPreviewLimit {
		preview = preview[:bodyPreviewLimit]
	}
	level.Warn(h.logger).Log(
		"msg", "rejecting delivery",
		"reason", cause,
		"producer_uid", d.ProducerUID,
		"body_preview", string(preview),
	)
}
