package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/strokesense/strokesense-core/internal/bus"
	"github.com/strokesense/strokesense-core/internal/config"
	"github.com/strokesense/strokesense-core/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Info describes one known detector node.
type Info struct {
	ID       string
	Kind     protocol.DetectorKind
	LastSeen time.Time
	Healthy  bool
}

// Registry tracks the external facial and posture detector nodes via their
// announce and heartbeat messages. The screening pipeline asks it whether a
// modality is currently being measured at all: an offline posture detector
// means posture contributes nothing to fusion rather than a stale reading.
type Registry struct {
	cfg    config.DetectorsConfig
	log    *slog.Logger
	bus    *bus.Client
	clock  func() time.Time
	mu     sync.RWMutex
	nodes  map[string]*Info
	cancel context.CancelFunc
	subs   []*nats.Subscription
	meter  metric.Meter
}

func NewRegistry(ctx context.Context, cfg config.DetectorsConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		log:    log.With(slog.String("component", "detector-registry")),
		bus:    busClient,
		clock:  time.Now,
		nodes:  make(map[string]*Info),
		meter:  otel.Meter("github.com/strokesense/strokesense-core/detector"),
		cancel: cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	go r.monitorHealth(ctx)
	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectDetectorAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe detector announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectDetectorHeartbeat, r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe detector heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announce protocol.DetectorAnnounce
	if err := json.Unmarshal(msg.Data, &announce); err != nil {
		r.log.Warn("invalid detector announce", slog.String("error", err.Error()))
		return
	}
	if announce.Timestamp.IsZero() {
		announce.Timestamp = r.clock().UTC()
	}
	r.updateNode(announce.DetectorID, announce.Kind, announce.Timestamp)
	r.log.Info("detector announced",
		slog.String("detector_id", announce.DetectorID),
		slog.String("kind", string(announce.Kind)))
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.DetectorHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid detector heartbeat", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}
	r.updateNode(hb.DetectorID, "", hb.Timestamp)
}

func (r *Registry) updateNode(id string, kind protocol.DetectorKind, timestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		node = &Info{ID: id}
		r.nodes[id] = node
	}
	if kind != "" {
		node.Kind = kind
	}
	node.LastSeen = timestamp
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.clock()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Active reports whether any healthy detector of the given kind is known.
func (r *Registry) Active(kind protocol.DetectorKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, node := range r.nodes {
		if node.Kind == kind && node.Healthy {
			return true
		}
	}
	return false
}

// Query returns copies of known detectors matching the filter.
func (r *Registry) Query(filter func(Info) bool) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []Info
	for _, node := range r.nodes {
		info := *node
		if filter == nil || filter(info) {
			results = append(results, info)
		}
	}
	return results
}

// WithKindFilter matches detectors of one modality.
func WithKindFilter(kind protocol.DetectorKind) func(Info) bool {
	return func(info Info) bool {
		return info.Kind == kind
	}
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge("strokesense.detectors.healthy",
		metric.WithDescription("Number of healthy detector nodes per kind"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		for kind, count := range r.healthyCounts() {
			obs.ObserveInt64(gauge, count, metric.WithAttributes(attribute.String("kind", string(kind))))
		}
		return nil
	}, gauge)
	return err
}

func (r *Registry) healthyCounts() map[protocol.DetectorKind]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[protocol.DetectorKind]int64)
	for _, node := range r.nodes {
		if node.Healthy {
			counts[node.Kind]++
		}
	}
	return counts
}
