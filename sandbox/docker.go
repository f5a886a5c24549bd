package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

const stderrLimit = 4 * 1024

// DockerRuntime runs execution units as Docker containers.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects using the standard DOCKER_* environment.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// ContainerConfig translates a UnitSpec into the container configuration with
// the isolation policy applied.
func ContainerConfig(spec UnitSpec) (*container.Config, *container.HostConfig) {
	network := spec.Network
	if network == "" {
		network = NetworkNone
	}

	pids := spec.Policy.PidsLimit
	cfg := &container.Config{
		Image:           spec.Image,
		Env:             spec.Env,
		User:            spec.User,
		NetworkDisabled: network == NetworkNone,
		Labels: map[string]string{
			"io.warden.tool": spec.Tool,
			"io.warden.unit": spec.Name,
		},
	}

	host := &container.HostConfig{
		NetworkMode:    container.NetworkMode(network),
		ReadonlyRootfs: true,
		CapDrop:        strslice.StrSlice{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,nodev,size=" + spec.TmpfsSize,
		},
		Resources: container.Resources{
			Memory:     spec.Policy.Memory,
			MemorySwap: spec.Policy.Memory,
			NanoCPUs:   spec.Policy.NanoCPUs,
			PidsLimit:  &pids,
		},
	}
	if network != NetworkNone {
		host.ExtraHosts = []string{"host.docker.internal:host-gateway"}
	}

	return cfg, host
}

func (d *DockerRuntime) Create(ctx context.Context, spec UnitSpec) (string, error) {
	cfg, host := ContainerConfig(spec)
	resp, err := d.cli.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *DockerRuntime) Start(ctx context.Context, id string) error {
	return d.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (d *DockerRuntime) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, errors.New(status.Error.Message)
		}
		return status.StatusCode, nil
	}
}

func (d *DockerRuntime) Output(ctx context.Context, id string, limit int64) ([]byte, []byte, bool, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, false, err
	}
	defer rc.Close()

	stdout := &limitedBuffer{limit: limit}
	stderr := &limitedBuffer{limit: stderrLimit}
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return stdout.Bytes(), stderr.Bytes(), stdout.overflow, err
	}
	return stdout.Bytes(), stderr.Bytes(), stdout.overflow, nil
}

func (d *DockerRuntime) Remove(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// Close releases the client connection.
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

// limitedBuffer keeps the first limit bytes written and discards the rest
// without failing the writer.
type limitedBuffer struct {
	buf      []byte
	limit    int64
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - int64(len(b.buf))
	if room <= 0 {
		if len(p) > 0 {
			b.overflow = true
		}
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf = append(b.buf, p[:room]...)
		b.overflow = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf
}
