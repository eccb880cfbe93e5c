package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Backend starts and drives containers.
type Backend interface {
	Ping(ctx context.Context) error
	Pull(ctx context.Context, image string) error
	Start(ctx context.Context, limits Limits) (string, error)
	Write(ctx context.Context, containerID string, files map[string]string) error
	Exec(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (*ExecResult, error)
	Remove(ctx context.Context, containerID string) error
}

const (
	workDir = "/workspace"
	// maxOutput caps the bytes read back from one run.
	maxOutput = 2 << 20
)

// Docker is a Backend talking to the local Docker daemon.
type Docker struct {
	cli *client.Client
}

// NewDocker connects using the DOCKER_* environment and checks the daemon
// answers.
func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	d := &Docker{cli: cli}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return d, nil
}

func (d *Docker) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Pull fetches the image unless it is already local.
func (d *Docker) Pull(ctx context.Context, ref string) error {
	if _, err := d.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Start runs an idle container that later execs attach to.
func (d *Docker) Start(ctx context.Context, l Limits) (string, error) {
	pids := l.PIDs
	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           l.Image,
			Cmd:             []string{"sleep", "infinity"},
			WorkingDir:      workDir,
			NetworkDisabled: l.NoNetwork,
			Labels:          map[string]string{"pylearner.sandbox": "true"},
		},
		&container.HostConfig{
			Resources: container.Resources{
				Memory:    int64(l.MemoryMB) << 20,
				NanoCPUs:  int64(l.CPUs * 1e9),
				PidsLimit: &pids,
			},
			CapDrop:     []string{"ALL"},
			SecurityOpt: []string{"no-new-privileges"},
		},
		nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = d.Remove(ctx, created.ID)
		return "", fmt.Errorf("start container: %w", err)
	}
	return created.ID, nil
}

// Write replaces files in the container's working directory.
func (d *Docker) Write(ctx context.Context, containerID string, files map[string]string) error {
	var archive bytes.Buffer
	tw := tar.NewWriter(&archive)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), ModTime: time.Now()}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("tar %s: %w", name, err)
		}
		if _, err := io.WriteString(tw, body); err != nil {
			return fmt.Errorf("tar %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar: %w", err)
	}
	return d.cli.CopyToContainer(ctx, containerID, workDir, &archive, container.CopyToContainerOptions{})
}

// Exec runs cmd and collects its output. A run that outlives timeout
// returns context.DeadlineExceeded.
func (d *Docker) Exec(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exec, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	started := time.Now()
	attach, err := d.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	_, copyErr := stdcopy.StdCopy(&stdout, &stderr, io.LimitReader(attach.Reader, maxOutput))
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if copyErr != nil {
		return nil, fmt.Errorf("read output: %w", copyErr)
	}

	info, err := d.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}
	return &ExecResult{
		ExitCode: info.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}, nil
}

// Remove force-removes the container.
func (d *Docker) Remove(ctx context.Context, containerID string) error {
	return d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// Close releases the client connection.
func (d *Docker) Close() error {
	return d.cli.Close()
}

var _ Backend = (*Docker)(nil)
