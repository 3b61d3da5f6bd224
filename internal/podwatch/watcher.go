// Package podwatch implements the pod-event source used by the legacy
// backlog metadata-binding strategy (spec §4.6): a long-lived watch over
// pods carrying the plugin-task label, filtered to those that have been
// scheduled onto a node, restarting on API faults after a 5s backoff plus up
// to 1s of random jitter.
package podwatch

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// LabelSelector is the label every plugin pod this service cares about
// carries, matching original_source/pod_event_watcher.py.
const LabelSelector = "sagecontinuum.org/plugin-task"

const restartBackoff = 5 * time.Second

// maxConsecutiveFailures bounds the retry loop: once this many watch
// attempts in a row fail, the watcher gives up and closes Terminal() rather
// than retrying forever (spec §7: WatcherTerminal is fatal).
const maxConsecutiveFailures = 10

// Pod is the subset of pod state the backlog binding needs to bind a
// producer UID to application metadata.
type Pod struct {
	UID    string
	Name   string
	Labels map[string]string
	Image  string
	Host   string
}

// EventCounters lets the watcher report into the service's metrics without
// this package depending on the metrics package directly.
type EventCounters interface {
	IncPodEvents()
	IncAPIExceptions()
	SetLastExceptionTime(unixSeconds float64)
}

// Watcher streams Pod records onto Events() until ctx is cancelled or the
// watch gives up after too many consecutive API faults. Either way the
// supervisor should treat Terminal() closing as fatal (spec §4.6, §7
// WatcherTerminal).
type Watcher struct {
	client   kubernetes.Interface
	logger   log.Logger
	counters EventCounters

	events   chan Pod
	terminal chan struct{}
}

// New starts watching pods in the background. The returned Watcher's
// Events channel is closed when ctx is cancelled or the watcher gives up;
// Terminal() is closed only in the latter case.
func New(ctx context.Context, client kubernetes.Interface, logger log.Logger, counters EventCounters) *Watcher {
	w := &Watcher{
		client:   client,
		logger:   logger,
		counters: counters,
		events:   make(chan Pod),
		terminal: make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// Events yields scheduled pods as they are added or modified.
func (w *Watcher) Events() <-chan Pod {
	return w.events
}

// Terminal is closed once the watcher has failed maxConsecutiveFailures
// times in a row and given up recovering from API errors.
func (w *Watcher) Terminal() <-chan struct{} {
	return w.terminal
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.events)
	failures := 0
	for {
		err := w.watchOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// watchOnce returned nil because its result channel closed
			// cleanly (e.g. server-side timeout); that is not a fault, so
			// reconnect immediately and reset the failure count.
			failures = 0
			continue
		}

		failures++
		w.counters.IncAPIExceptions()
		w.counters.SetLastExceptionTime(float64(time.Now().Unix()))
		level.Warn(w.logger).Log("msg", "pod watch received an exception, restarting", "err", err, "consecutive_failures", failures)

		if failures >= maxConsecutiveFailures {
			level.Error(w.logger).Log("msg", "pod watch exhausted retries, giving up", "consecutive_failures", failures)
			close(w.terminal)
			return
		}

		jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
		select {
		case <-time.After(restartBackoff + jitter):
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) watchOnce(ctx context.Context) error {
	watcher, err := w.client.CoreV1().Pods(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{
		LabelSelector: LabelSelector,
	})
	if err != nil {
		if apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) {
			return nil
		}
		return err
	}
	defer watcher.Stop()

	for {
		select {
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return nil
			}
			if event.Type == watch.Error {
				return apierrors.FromObject(event.Object)
			}
			pod, ok := event.Object.(*corev1.Pod)
			if !ok || pod.Spec.NodeName == "" {
				continue
			}
			w.counters.IncPodEvents()
			select {
			case w.events <- toPod(pod):
			case <-ctx.Done():
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func toPod(pod *corev1.Pod) Pod {
	image := ""
	if len(pod.Spec.Containers) > 0 {
		image = pod.Spec.Containers[0].Image
	}
	return Pod{
		UID:    string(pod.UID),
		Name:   pod.Name,
		Labels: pod.Labels,
		Image:  image,
		Host:   pod.Spec.NodeName,
	}
}
