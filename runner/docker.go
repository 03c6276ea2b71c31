package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const defaultExecTimeout = 10 * time.Minute

// DockerRunner executes stage commands in throwaway containers through the
// Docker Engine SDK.
type DockerRunner struct {
	client *client.Client
}

// NewDockerRunner creates a DockerRunner using a client configured from
// environment variables (DOCKER_HOST, etc.).
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("runner: failed to create Docker client: %w", err)
	}
	return &DockerRunner{client: cli}, nil
}

// Exec creates a container, runs the command, captures output, and removes
// the container.
func (r *DockerRunner) Exec(ctx context.Context, spec ExecSpec) (*ExecResult, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("runner: image is required")
	}
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("runner: command is required")
	}

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = defaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.ensureImage(ctx, spec.Image); err != nil {
		return nil, fmt.Errorf("runner: failed to pull image: %w", err)
	}

	containerConfig := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Env:        buildEnv(spec.Env),
		WorkingDir: spec.WorkDir,
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, buildHostConfig(spec.Mounts), nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("runner: failed to create container: %w", err)
	}
	containerID := resp.ID

	// Always remove the container when done
	defer func() {
		removeCtx, removeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer removeCancel()
		_ = r.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("runner: failed to start container: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("runner: error waiting for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = r.client.ContainerStop(stopCtx, containerID, container.StopOptions{})
		return nil, fmt.Errorf("runner: execution timed out after %s", timeout)
	}

	stdout, stderr, err := r.getLogs(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("runner: failed to capture logs: %w", err)
	}

	return &ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}

// Close cleans up the Docker client.
func (r *DockerRunner) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ensureImage pulls the image if it is not available locally.
func (r *DockerRunner) ensureImage(ctx context.Context, ref string) error {
	_, _, err := r.client.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}

	reader, err := r.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// getLogs captures stdout and stderr from a container.
func (r *DockerRunner) getLogs(ctx context.Context, containerID string) (string, string, error) {
	logReader, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer logReader.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	_, err = stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logReader)
	if err != nil {
		return "", "", err
	}

	return strings.TrimSpace(stdoutBuf.String()), strings.TrimSpace(stderrBuf.String()), nil
}

// buildEnv converts the env map into Docker's KEY=VALUE format.
func buildEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// buildHostConfig creates the Docker HostConfig with bind mounts.
func buildHostConfig(mounts []Mount) *container.HostConfig {
	hc := &container.HostConfig{}
	if len(mounts) > 0 {
		binds := make([]mount.Mount, len(mounts))
		for i, m := range mounts {
			binds[i] = mount.Mount{
				Type:     mount.TypeBind,
				Source:   m.Source,
				Target:   m.Target,
				ReadOnly: m.ReadOnly,
			}
		}
		hc.Mounts = binds
	}
	return hc
}

// DockerBuilder builds images through the Docker Engine SDK.
type DockerBuilder struct {
	client *client.Client
}

// NewDockerBuilder creates a DockerBuilder using a client configured from
// environment variables.
func NewDockerBuilder() (*DockerBuilder, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("runner: failed to create Docker client: %w", err)
	}
	return &DockerBuilder{client: cli}, nil
}

// Build tars the context directory and builds the image, tagging it with
// {repo}:{tag} for every requested tag.
func (b *DockerBuilder) Build(ctx context.Context, contextDir, dockerfile, repo string, tags []string) error {
	if repo == "" {
		return fmt.Errorf("runner: repo is required")
	}
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	buildCtx, err := createBuildContext(contextDir)
	if err != nil {
		return fmt.Errorf("runner: failed to create build context: %w", err)
	}

	refs := make([]string, 0, len(tags))
	for _, t := range tags {
		refs = append(refs, repo+":"+t)
	}

	opts := build.ImageBuildOptions{
		Tags:       refs,
		Dockerfile: dockerfile,
		Remove:     true,
	}

	resp, err := b.client.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return fmt.Errorf("runner: build failed: %w", err)
	}
	defer resp.Body.Close()

	if _, err := parseBuildOutput(resp.Body); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	return nil
}

// Close cleans up the Docker client.
func (b *DockerBuilder) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// createBuildContext creates a tar archive of the build context directory.
func createBuildContext(contextPath string) (io.Reader, error) {
	absPath, err := filepath.Abs(contextPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve context path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("context path %q does not exist: %w", absPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("context path %q is not a directory", absPath)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archiveDirectory(absPath, pw))
	}()

	return pr, nil
}

// archiveDirectory creates a tar archive of a directory and writes it to w.
func archiveDirectory(dir string, w io.Writer) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = relPath

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})
}

// parseBuildOutput reads the Docker build JSON stream and extracts the image ID.
func parseBuildOutput(r io.Reader) (string, error) {
	decoder := json.NewDecoder(r)
	var imageID string

	for {
		var msg struct {
			Stream string `json:"stream"`
			Aux    struct {
				ID string `json:"ID"`
			} `json:"aux"`
			Error string `json:"error"`
		}
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("failed to parse build output: %w", err)
		}
		if msg.Error != "" {
			return "", fmt.Errorf("build error: %s", msg.Error)
		}
		if msg.Aux.ID != "" {
			imageID = msg.Aux.ID
		}
	}

	return imageID, nil
}
