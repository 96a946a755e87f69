package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// healthChecker is satisfied by dependencies that expose a cheap reachability
// probe, such as *store.SQLiteStore and *embedder.OllamaProvider.
type healthChecker interface {
	Ping(ctx context.Context) error
}

// DependencyPinger adapts a healthChecker to the Pinger interface under a
// fixed name. It is used by GET /api/ready.
type DependencyPinger struct {
	// check is the dependency probe.
	check healthChecker
	// name identifies the dependency in readiness responses (e.g. "store").
	name string
}

// NewDependencyPinger constructs a DependencyPinger for the given probe.
func NewDependencyPinger(name string, check healthChecker) *DependencyPinger {
	return &DependencyPinger{check: check, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *DependencyPinger) Name() string { return p.name }

// Ping runs the wrapped probe.
func (p *DependencyPinger) Ping(ctx context.Context) error {
	if err := p.check.Ping(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
