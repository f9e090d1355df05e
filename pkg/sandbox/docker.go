package sandbox

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

// containerMount is where the workspace is bound inside the container.
const containerMount = "/workspace"

// DockerRunner executes commands in throwaway containers with no
// network and a hard memory limit. The workspace is mounted read-write
// at /workspace.
type DockerRunner struct {
	cli       *client.Client
	cfg       config.SandboxConfig
	workspace string
}

func NewDockerRunner(cfg config.SandboxConfig, workspace string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRunner{cli: cli, cfg: cfg, workspace: workspace}, nil
}

func (r *DockerRunner) Name() string { return "docker" }

func (r *DockerRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Command) == 0 {
		return nil, protocol.NewError(protocol.KindInvalidInput, "command cannot be empty", nil)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}

	containerCfg := &container.Config{
		Image:           r.cfg.Image,
		Cmd:             spec.Command,
		WorkingDir:      containerWorkDir(r.workspace, spec.Dir),
		Env:             spec.Env,
		NetworkDisabled: true,
		AttachStdin:     spec.Stdin != "",
		OpenStdin:       spec.Stdin != "",
		StdinOnce:       spec.Stdin != "",
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Binds:       []string{r.workspace + ":" + containerMount},
		Resources: container.Resources{
			Memory: int64(r.cfg.MemoryLimitMB) << 20,
		},
	}

	created, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := created.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.cli.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	var attached types.HijackedResponse
	if spec.Stdin != "" {
		attached, err = r.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
			Stream: true,
			Stdin:  true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach stdin: %w", err)
		}
		defer attached.Close()
	}

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	if spec.Stdin != "" {
		go func() {
			_, _ = io.WriteString(attached.Conn, spec.Stdin)
			_ = attached.CloseWrite()
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &Result{}
	statusCh, errCh := r.cli.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if runCtx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			killCtx, killCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer killCancel()
			_ = r.cli.ContainerKill(killCtx, containerID, "KILL")
		} else if err != nil {
			return nil, fmt.Errorf("failed waiting for container: %w", err)
		}
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	}

	result.Duration = time.Since(start)

	// Logs are fetched on a fresh context; the run context may already
	// be past its deadline.
	logCtx, logCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer logCancel()

	logs, err := r.cli.ContainerLogs(logCtx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err == nil {
		defer logs.Close()
		stdout := &limitWriter{max: maxOutputBytes}
		stderr := &limitWriter{max: maxOutputBytes}
		_, _ = stdcopy.StdCopy(stdout, stderr, logs)
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
	}

	return result, nil
}

// containerWorkDir maps a host directory under the workspace to its
// path inside the container. Directories outside the mount fall back
// to the mount root.
func containerWorkDir(workspace, dir string) string {
	if dir == "" {
		return containerMount
	}
	rel, err := filepath.Rel(workspace, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return containerMount
	}
	return path.Join(containerMount, filepath.ToSlash(rel))
}

func (r *DockerRunner) Close() error { return r.cli.Close() }

var _ Runner = (*DockerRunner)(nil)
