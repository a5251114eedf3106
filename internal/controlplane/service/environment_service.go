package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"sandboxd/internal/controlplane/events"
	"sandboxd/internal/controlplane/hub"
	"sandboxd/internal/controlplane/model"
	netmgr "sandboxd/internal/controlplane/network"
	"sandboxd/internal/controlplane/security"
	pkgerrors "sandboxd/pkg/errors"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dnetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// ContainerAPI is the slice of the Docker engine client the environment
// service drives. *client.Client satisfies it.
type ContainerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *dnetwork.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error)
}

// CreateEnvironmentRequest carries everything needed to launch one
// environment. PolicyOverrides relax or tighten the base policy for this
// request only; nil keeps the base policy as is.
type CreateEnvironmentRequest struct {
	UserID          string
	Name            string
	Spec            model.ContainerSpec
	PolicyOverrides *security.Overrides
}

// EnvironmentService owns the environment lifecycle: policy enforcement,
// network provisioning, container launch and teardown, and the log stream
// feeding the realtime hub.
type EnvironmentService struct {
	docker     ContainerAPI
	networks   *netmgr.Manager
	hub        *hub.Hub
	publisher  *events.Publisher
	policy     security.Policy
	prefix     string
	maxPerUser int
	log        *zap.Logger

	mu       sync.Mutex
	envs     map[string]*model.Environment
	tailStop map[string]context.CancelFunc
	sessions map[string]*TerminalSession
}

// EnvironmentServiceOptions groups the constructor knobs that have sane
// defaults.
type EnvironmentServiceOptions struct {
	// Prefix names containers, "sandboxd" when empty.
	Prefix string
	// MaxPerUser caps concurrently live environments per user, 0 means
	// unlimited.
	MaxPerUser int
	Logger     *zap.Logger
}

func NewEnvironmentService(docker ContainerAPI, networks *netmgr.Manager, h *hub.Hub, publisher *events.Publisher, policy security.Policy, opts EnvironmentServiceOptions) *EnvironmentService {
	if opts.Prefix == "" {
		opts.Prefix = "sandboxd"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &EnvironmentService{
		docker:     docker,
		networks:   networks,
		hub:        h,
		publisher:  publisher,
		policy:     policy,
		prefix:     opts.Prefix,
		maxPerUser: opts.MaxPerUser,
		log:        opts.Logger,
		envs:       make(map[string]*model.Environment),
		tailStop:   make(map[string]context.CancelFunc),
		sessions:   make(map[string]*TerminalSession),
	}
}

// Create validates the request against the merged policy, hardens the spec,
// provisions the per-environment network and launches the container. The
// returned environment is already running (or an error is returned and
// nothing is left behind except a possibly reusable network).
func (s *EnvironmentService) Create(ctx context.Context, req CreateEnvironmentRequest) (*model.Environment, error) {
	if req.UserID == "" {
		return nil, pkgerrors.ValidationError("userId", "must not be empty")
	}
	if req.Spec.Image == "" {
		return nil, pkgerrors.ValidationError("image", "must not be empty")
	}
	if s.maxPerUser > 0 && s.liveCountForUser(req.UserID) >= s.maxPerUser {
		return nil, pkgerrors.New(pkgerrors.EnvironmentQuotaExceeded).
			WithDetail("limit", s.maxPerUser)
	}

	policy := s.policy.Merge(req.PolicyOverrides)
	if err := security.Validate(req.Spec, policy); err != nil {
		var verr *security.ViolationError
		if errors.As(err, &verr) {
			return nil, pkgerrors.New(pkgerrors.PolicyViolation).
				WithDetail("violations", verr.Violations)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.PolicyViolation)
	}
	hardened := security.Harden(req.Spec, policy)

	env := &model.Environment{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Name:      req.Name,
		Status:    model.EnvironmentPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Spec:      hardened,
	}
	s.track(env)
	s.announce(ctx, env, "environment accepted")

	networkID, err := s.networks.EnsureNetwork(ctx, env.ID)
	if err != nil {
		s.fail(ctx, env, fmt.Sprintf("network provisioning: %v", err))
		return nil, pkgerrors.Wrap(err, pkgerrors.NetworkProvisionFailed)
	}
	// env is already visible to List/Get, so field writes take the lock
	s.mu.Lock()
	env.NetworkID = networkID
	s.mu.Unlock()

	containerID, err := s.launch(ctx, env, hardened, networkID)
	if err != nil {
		s.fail(ctx, env, fmt.Sprintf("container launch: %v", err))
		if rmErr := s.networks.RemoveNetwork(ctx, env.ID); rmErr != nil {
			s.log.Warn("rollback network removal failed",
				zap.String("environment_id", env.ID), zap.Error(rmErr))
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.EnvironmentCreateFailed)
	}
	s.mu.Lock()
	env.ContainerID = containerID
	s.mu.Unlock()

	s.transition(ctx, env, model.EnvironmentRunning, "container started")

	tailCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.tailStop[env.ID] = cancel
	s.mu.Unlock()
	go s.tailLogs(tailCtx, env.ID, containerID)

	return s.snapshot(env.ID), nil
}

func (s *EnvironmentService) launch(ctx context.Context, env *model.Environment, spec model.ContainerSpec, networkID string) (string, error) {
	labels := make(map[string]string, len(spec.Labels)+2)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[netmgr.LabelEnvironmentID] = env.ID
	labels[netmgr.LabelManaged] = "true"

	cfg := &container.Config{
		Image:      spec.Image,
		User:       spec.User,
		Env:        spec.Env,
		Cmd:        strslice.StrSlice(spec.Cmd),
		WorkingDir: spec.WorkingDir,
		Labels:     labels,
	}
	hostCfg := &container.HostConfig{
		Privileged:     spec.HostConfig.Privileged,
		Binds:          spec.HostConfig.Binds,
		CapDrop:        strslice.StrSlice(spec.HostConfig.CapDrop),
		SecurityOpt:    spec.HostConfig.SecurityOpt,
		ReadonlyRootfs: spec.HostConfig.ReadOnlyFS,
	}
	hostCfg.Memory = spec.HostConfig.Memory
	hostCfg.NanoCPUs = spec.HostConfig.NanoCPUs
	if spec.HostConfig.PidsLimit > 0 {
		pids := spec.HostConfig.PidsLimit
		hostCfg.PidsLimit = &pids
	}
	netCfg := &dnetwork.NetworkingConfig{
		EndpointsConfig: map[string]*dnetwork.EndpointSettings{
			s.networks.NetworkName(env.ID): {NetworkID: networkID},
		},
	}

	name := fmt.Sprintf("%s-env-%s", s.prefix, env.ID)
	created, err := s.docker.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", err
	}
	if err := s.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		if rmErr := s.docker.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			s.log.Warn("remove unstarted container failed",
				zap.String("container_id", created.ID), zap.Error(rmErr))
		}
		return "", err
	}
	return created.ID, nil
}

// Terminate tears an environment down: terminal sessions first, then the
// container, then its network. Network removal is advisory; a stop or
// remove failure on the container surfaces as a teardown error after the
// environment is marked failed.
func (s *EnvironmentService) Terminate(ctx context.Context, environmentID string) error {
	s.mu.Lock()
	env, ok := s.envs[environmentID]
	if !ok {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.EnvironmentNotFound).
			WithDetail("environmentId", environmentID)
	}
	status := env.Status
	containerID := env.ContainerID
	s.mu.Unlock()
	if status == model.EnvironmentStopped || status == model.EnvironmentStopping {
		return nil
	}

	s.transition(ctx, env, model.EnvironmentStopping, "teardown requested")
	s.closeSessionsFor(environmentID)

	s.mu.Lock()
	if cancel, ok := s.tailStop[environmentID]; ok {
		cancel()
		delete(s.tailStop, environmentID)
	}
	s.mu.Unlock()

	if containerID != "" {
		if err := s.docker.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
			s.fail(ctx, env, fmt.Sprintf("container stop: %v", err))
			return pkgerrors.Wrap(err, pkgerrors.EnvironmentTeardownError)
		}
		if err := s.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
			s.fail(ctx, env, fmt.Sprintf("container remove: %v", err))
			return pkgerrors.Wrap(err, pkgerrors.EnvironmentTeardownError)
		}
	}
	if err := s.networks.RemoveNetwork(ctx, environmentID); err != nil {
		s.log.Warn("network removal during teardown failed",
			zap.String("environment_id", environmentID), zap.Error(err))
	}

	s.transition(ctx, env, model.EnvironmentStopped, "environment stopped")
	return nil
}

// Get returns a copy of one environment.
func (s *EnvironmentService) Get(environmentID string) (*model.Environment, error) {
	if env := s.snapshot(environmentID); env != nil {
		return env, nil
	}
	return nil, pkgerrors.New(pkgerrors.EnvironmentNotFound).
		WithDetail("environmentId", environmentID)
}

// List returns all environments, optionally filtered by user, newest first.
func (s *EnvironmentService) List(userID string) []*model.Environment {
	s.mu.Lock()
	out := make([]*model.Environment, 0, len(s.envs))
	for _, env := range s.envs {
		if userID != "" && env.UserID != userID {
			continue
		}
		cp := *env
		out = append(out, &cp)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *EnvironmentService) track(env *model.Environment) {
	s.mu.Lock()
	s.envs[env.ID] = env
	s.mu.Unlock()
}

func (s *EnvironmentService) snapshot(environmentID string) *model.Environment {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[environmentID]
	if !ok {
		return nil
	}
	cp := *env
	return &cp
}

func (s *EnvironmentService) liveCountForUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.envs {
		if env.UserID != userID {
			continue
		}
		switch env.Status {
		case model.EnvironmentPending, model.EnvironmentRunning:
			n++
		}
	}
	return n
}

// transition updates the status and fans the event out to hub subscribers
// and the Kafka stream.
func (s *EnvironmentService) transition(ctx context.Context, env *model.Environment, status model.EnvironmentStatus, message string) {
	s.mu.Lock()
	env.Status = status
	env.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	event := model.StatusEvent{
		EnvironmentID: env.ID,
		Status:        status,
		Message:       message,
		Timestamp:     time.Now().UTC(),
	}
	s.hub.BroadcastEnvironmentStatus(event)
	s.publisher.PublishStatus(ctx, event)
	s.log.Info("environment status",
		zap.String("environment_id", env.ID),
		zap.String("status", string(status)),
		zap.String("message", message))
}

func (s *EnvironmentService) announce(ctx context.Context, env *model.Environment, message string) {
	s.transition(ctx, env, env.Status, message)
}

func (s *EnvironmentService) fail(ctx context.Context, env *model.Environment, message string) {
	s.transition(ctx, env, model.EnvironmentFailed, message)
}

// tailLogs follows the container's multiplexed log stream and forwards each
// line to hub subscribers until the stream ends or the environment is torn
// down.
func (s *EnvironmentService) tailLogs(ctx context.Context, environmentID, containerID string) {
	rc, err := s.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		s.log.Warn("attach container logs failed",
			zap.String("environment_id", environmentID), zap.Error(err))
		return
	}
	defer rc.Close()

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	go s.forwardLines(environmentID, "stdout", outR)
	go s.forwardLines(environmentID, "stderr", errR)

	_, copyErr := stdcopy.StdCopy(outW, errW, rc)
	outW.CloseWithError(copyErr)
	errW.CloseWithError(copyErr)
	if copyErr != nil && ctx.Err() == nil {
		s.log.Debug("log stream ended",
			zap.String("environment_id", environmentID), zap.Error(copyErr))
	}
}

func (s *EnvironmentService) forwardLines(environmentID, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.hub.BroadcastLog(model.LogEvent{
			EnvironmentID: environmentID,
			Stream:        stream,
			Message:       scanner.Text(),
			Timestamp:     time.Now().UTC(),
		})
	}
}
