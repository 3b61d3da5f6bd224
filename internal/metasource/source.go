// Package metasource defines the contract both metadata-binding strategies
// (§4.3.A cache binding and §4.3.B backlog binding) satisfy.
package metasource

import (
	"context"

	"github.com/waggle-sensor/wes-data-sharing-service/internal/broker"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/meta"
)

// Source resolves a producer UID to its bound application metadata. A
// boolean false return means "no binding yet".
type Source interface {
	Lookup(ctx context.Context, producerUID string) (meta.Application, bool)
}

// BindResult distinguishes the three ways step 3 of the handler contract can
// resolve, which is exactly where the two binding variants differ (spec §9:
// "variants share steps 4-7; they differ only in how step 3 resolves").
type BindResult int

const (
	// BindResolved means appMeta is ready and the caller still owns d;
	// proceed with steps 4-7.
	BindResolved BindResult = iota
	// BindMiss means no metadata is available and none ever will be for
	// this delivery; the caller must reject d.
	BindMiss
	// BindPending means the Binder has taken ownership of d (held in a
	// backlog) until metadata arrives or the state expires; the caller
	// must not ack, reject or publish d.
	BindPending
)

// Binder performs step 3 of the handler contract. The cache-binding source
// only ever returns BindResolved or BindMiss; the backlog-binding source can
// also return BindPending.
type Binder interface {
	Bind(ctx context.Context, producerUID string, d broker.Delivery) (meta.Application, BindResult)
}
