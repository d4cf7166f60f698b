// Package sandbox is a thin adapter over the Docker SDK: image pulls,
// resource-capped container creation, tar uploads, combined log streaming,
// and teardown. It knows nothing about languages or executions beyond the
// deterministic container naming scheme.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"cloudrun-ide/internal/logging"
)

// Error kinds wrapped by the pull, create and start steps.
var (
	ErrImagePull    = errors.New("image pull failed")
	ErrCreateFailed = errors.New("container create failed")
	ErrStartFailed  = errors.New("container start failed")
)

// Config holds driver-level settings.
type Config struct {
	// Host overrides DOCKER_HOST; empty uses the SDK defaults.
	Host string

	// NamePrefix prefixes every container name; orphan sweep keys off it.
	NamePrefix string

	// Resource caps applied to every container.
	MemoryBytes int64
	CPUQuota    int64
	CPUPeriod   int64

	// StopGrace is the SIGTERM-to-SIGKILL window.
	StopGrace time.Duration
}

// CreateOptions describes one container to create.
type CreateOptions struct {
	ExecutionID    string
	Language       string
	Image          string
	Cmd            []string
	WorkingDir     string
	Env            []string
	NetworkEnabled bool
}

// Driver wraps a Docker SDK client.
type Driver struct {
	cli *client.Client
	cfg Config
	log *zap.Logger
}

// NewDriver connects to the Docker daemon and verifies it is reachable.
func NewDriver(ctx context.Context, cfg Config) (*Driver, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client init failed: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 3 * time.Second
	}

	return &Driver{cli: cli, cfg: cfg, log: logging.L()}, nil
}

// Ping checks daemon reachability.
func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// ContainerName returns the deterministic name for an execution's container.
func (d *Driver) ContainerName(lang, executionID string) string {
	return fmt.Sprintf("%s_%s_%s", d.cfg.NamePrefix, lang, executionID)
}

// EnsureImage pulls the image unless it is already present locally.
func (d *Driver) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	d.log.Info("pulling image", zap.String("image", ref))
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImagePull, ref, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImagePull, ref, err)
	}
	return nil
}

// Create ensures the image then creates a stopped container with the
// configured resource caps. It fails closed: no handle is returned unless
// both steps succeed.
func (d *Driver) Create(ctx context.Context, opts CreateOptions) (string, error) {
	if err := d.EnsureImage(ctx, opts.Image); err != nil {
		return "", err
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = "/workspace"
	}

	name := d.ContainerName(opts.Language, opts.ExecutionID)
	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           opts.Image,
			Cmd:             opts.Cmd,
			WorkingDir:      workingDir,
			Env:             opts.Env,
			AttachStdout:    true,
			AttachStderr:    true,
			Tty:             false,
			NetworkDisabled: !opts.NetworkEnabled,
		},
		&container.HostConfig{
			AutoRemove: false,
			Resources: container.Resources{
				Memory:    d.cfg.MemoryBytes,
				CPUQuota:  d.cfg.CPUQuota,
				CPUPeriod: d.cfg.CPUPeriod,
			},
		},
		&network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	d.log.Info("container created",
		zap.String("name", name),
		zap.Bool("network", opts.NetworkEnabled))
	return created.ID, nil
}

// Upload overlays a tar archive at destPath inside the container.
func (d *Driver) Upload(ctx context.Context, id string, archive io.Reader, destPath string) error {
	if err := d.cli.CopyToContainer(ctx, id, destPath, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy to container: %w", err)
	}
	return nil
}

// Start begins execution of a created container.
func (d *Driver) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	return nil
}

// StreamLogs returns a reader over the container's combined stdout/stderr,
// demultiplexed from the runtime's framing. The reader blocks until the
// container exits or the context is canceled; callers bridge it off the
// request goroutine.
func (d *Driver) StreamLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, rc)
		rc.Close()
		pw.CloseWithError(copyErr)
	}()
	return pr, nil
}

// Wait blocks until the container stops running and returns its exit code.
// Context cancellation or deadline expiry surfaces as an error.
func (d *Driver) Wait(ctx context.Context, id string) (int64, error) {
	waitCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return -1, fmt.Errorf("container wait: %s", resp.Error.Message)
		}
		return resp.StatusCode, nil
	case err := <-errCh:
		return -1, fmt.Errorf("container wait: %w", err)
	}
}

// Stop sends SIGTERM, escalating to SIGKILL after the grace period. Errors
// on already-terminated containers are logged and swallowed.
func (d *Driver) Stop(ctx context.Context, id string, grace time.Duration) {
	if grace <= 0 {
		grace = d.cfg.StopGrace
	}
	seconds := int(grace / time.Second)
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		d.log.Debug("container stop", zap.String("id", id), zap.Error(err))
	}
}

// Remove force-removes a container. Idempotent: errors are logged only.
func (d *Driver) Remove(ctx context.Context, id string) {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		d.log.Debug("container remove", zap.String("id", id), zap.Error(err))
	}
}

// SweepOrphans removes all containers whose name starts with the driver's
// name prefix, returning the count removed. Used at startup to clean up
// after a previous process crash.
func (d *Driver) SweepOrphans(ctx context.Context) int {
	prefix := d.cfg.NamePrefix + "_"
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", prefix)),
	})
	if err != nil {
		d.log.Warn("orphan sweep list failed", zap.Error(err))
		return 0
	}

	count := 0
	for _, c := range list {
		// The daemon's name filter matches anywhere in the name; keep only
		// containers whose name starts with the prefix.
		owned := false
		for _, n := range c.Names {
			if strings.HasPrefix(strings.TrimPrefix(n, "/"), prefix) {
				owned = true
			}
		}
		if !owned {
			continue
		}
		if err := d.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			d.log.Debug("orphan remove", zap.String("id", c.ID), zap.Error(err))
			continue
		}
		count++
	}
	if count > 0 {
		d.log.Info("removed orphaned containers", zap.Int("count", count))
	}
	return count
}

// Close releases the SDK client.
func (d *Driver) Close() error {
	return d.cli.Close()
}
