// Package network provisions one isolated Docker bridge network per sandbox
// environment. Exclusivity relies on deterministic naming plus the
// list-then-create pattern rather than distributed locking: names are unique
// per environment and environment creation is serialized upstream.
package network

import (
	"context"
	"fmt"

	"sandboxd/internal/controlplane/security"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"go.uber.org/zap"
)

// Label keys binding a network to its owning environment.
const (
	LabelEnvironmentID = "sandboxd.environment.id"
	LabelManaged       = "sandboxd.managed"
)

// DockerAPI is the slice of the Docker Engine client the manager consumes.
// *client.Client satisfies it.
type DockerAPI interface {
	NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error)
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	NetworkRemove(ctx context.Context, networkID string) error
}

// Manager creates, reuses and removes per-environment networks.
type Manager struct {
	docker    DockerAPI
	prefix    string
	isolation security.IsolationMode
	log       *zap.Logger
}

// NewManager builds a Manager. prefix namespaces network names so several
// deployments can share one daemon.
func NewManager(docker DockerAPI, prefix string, isolation security.IsolationMode, log *zap.Logger) *Manager {
	if prefix == "" {
		prefix = "sandboxd"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{docker: docker, prefix: prefix, isolation: isolation, log: log}
}

// NetworkName returns the deterministic name for an environment's network.
func (m *Manager) NetworkName(environmentID string) string {
	return fmt.Sprintf("%s-env-%s", m.prefix, environmentID)
}

// EnsureNetwork returns the id of the environment's isolated network,
// creating it on first use. A second call for the same environment returns
// the existing network without a create call. Daemon errors propagate to the
// caller unmodified: environment creation must fail visibly.
func (m *Manager) EnsureNetwork(ctx context.Context, environmentID string) (string, error) {
	name := m.NetworkName(environmentID)

	existing, err := m.findByName(ctx, name)
	if err != nil {
		return "", err
	}
	if existing != "" {
		m.log.Debug("reusing isolated network",
			zap.String("environment_id", environmentID),
			zap.String("network_id", existing))
		return existing, nil
	}

	subnet := SubnetForEnvironment(environmentID)
	created, err := m.docker.NetworkCreate(ctx, name, network.CreateOptions{
		Driver:   "bridge",
		Internal: m.isolation == security.IsolationIsolated,
		IPAM: &network.IPAM{
			Driver: "default",
			Config: []network.IPAMConfig{{
				Subnet:  subnet,
				Gateway: GatewayForSubnet(subnet),
			}},
		},
		Labels: map[string]string{
			LabelEnvironmentID: environmentID,
			LabelManaged:       "true",
		},
	})
	if err != nil {
		return "", err
	}

	m.log.Info("created isolated network",
		zap.String("environment_id", environmentID),
		zap.String("network_id", created.ID),
		zap.String("subnet", subnet))
	return created.ID, nil
}

// RemoveNetwork tears down the environment's network. Removal is advisory:
// a missing network is success, and a failing daemon removal (e.g. a
// container still attached) is logged and swallowed so sandbox teardown is
// never blocked by network cleanup.
func (m *Manager) RemoveNetwork(ctx context.Context, environmentID string) error {
	name := m.NetworkName(environmentID)

	id, err := m.findByName(ctx, name)
	if err != nil {
		m.log.Warn("network lookup failed during teardown",
			zap.String("environment_id", environmentID), zap.Error(err))
		return nil
	}
	if id == "" {
		return nil
	}

	if err := m.docker.NetworkRemove(ctx, id); err != nil {
		m.log.Warn("network removal failed, continuing teardown",
			zap.String("environment_id", environmentID),
			zap.String("network_id", id),
			zap.Error(err))
	}
	return nil
}

// findByName resolves a network id by exact name. The daemon's name filter
// is a substring match, so results are re-checked for equality.
func (m *Manager) findByName(ctx context.Context, name string) (string, error) {
	list, err := m.docker.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", err
	}
	for _, item := range list {
		if item.Name == name {
			return item.ID, nil
		}
	}
	return "", nil
}
