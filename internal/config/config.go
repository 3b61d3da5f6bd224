// Package config holds the process-wide configuration assembled from CLI
// flags (see spec §6); it has no flag-parsing logic of its own so it can be
// unit tested without kingpin.
package config

import (
	"strings"
	"time"
)

// Config is the fully resolved configuration for one run of the service.
type Config struct {
	Debug bool

	UploadPublishName string

	RabbitMQHost     string
	RabbitMQPort     int
	RabbitMQUsername string
	RabbitMQPassword string

	AppMetaCacheHost string
	AppMetaCachePort int

	Node string
	VSN  string

	MetricsHost string
	MetricsPort int

	SrcQueue           string
	DstExchangeBeehive string
	DstExchangeNode    string

	SystemUsers map[string]struct{}

	BacklogBinding bool

	PodExpireDuration                time.Duration
	PodWithoutMetadataExpireDuration time.Duration

	KubeConfig string
}

// ParseSystemUsers splits a whitespace-separated list of broker usernames
// into the opaque set the handler checks bypassed-lookup membership against.
func ParseSystemUsers(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, u := range strings.Fields(s) {
		out[u] = struct{}{}
	}
	return out
}

// Validate enforces the one cross-field invariant spec §3 names:
// podWithoutMetadataTTL <= podStateTTL.
func (c Config) Validate() error {
	if c.BacklogBinding && c.PodWithoutMetadataExpireDuration > c.PodExpireDuration {
		return errInvalidTTLOrder
	}
	return nil
}

var errInvalidTTLOrder = configError("pod-without-metadata-expire-duration must be <= pod-expire-duration")

type configError string

func (e configError) Error() string { return string(e) }
