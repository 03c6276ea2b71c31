package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
)

// DockerPusher pushes images through the Docker Engine API. The images must
// already exist locally under {repo}:{tag} (the build stage tags them).
type DockerPusher struct {
	client *dockerclient.Client
}

// NewDockerPusher creates a DockerPusher using the environment's Docker
// client configuration (DOCKER_HOST, etc.).
func NewDockerPusher() (*DockerPusher, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("registry: failed to create Docker client: %w", err)
	}
	return &DockerPusher{client: cli}, nil
}

// Push pushes every tag of the repository, reading each push stream to
// completion. The first failed tag aborts the rest.
func (p *DockerPusher) Push(ctx context.Context, repo string, tags []string) error {
	if repo == "" {
		return fmt.Errorf("registry: repo is required")
	}
	if len(tags) == 0 {
		return fmt.Errorf("registry: at least one tag is required")
	}

	for _, tag := range tags {
		ref := repo + ":" + tag

		reader, err := p.client.ImagePush(ctx, ref, image.PushOptions{})
		if err != nil {
			return fmt.Errorf("registry: push of %s failed: %w", ref, err)
		}

		_, err = parsePushOutput(reader)
		reader.Close()
		if err != nil {
			return fmt.Errorf("registry: push of %s failed: %w", ref, err)
		}
	}
	return nil
}

// Close releases the Docker client.
func (p *DockerPusher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// parsePushOutput reads the Docker push JSON stream and extracts the digest.
func parsePushOutput(r io.Reader) (string, error) {
	decoder := json.NewDecoder(r)
	var digest string

	for {
		var msg struct {
			Status string `json:"status"`
			Aux    struct {
				Tag    string `json:"Tag"`
				Digest string `json:"Digest"`
				Size   int64  `json:"Size"`
			} `json:"aux"`
			Error string `json:"error"`
		}
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("failed to parse push output: %w", err)
		}
		if msg.Error != "" {
			return "", fmt.Errorf("push error: %s", msg.Error)
		}
		if msg.Aux.Digest != "" {
			digest = msg.Aux.Digest
		}
	}

	return digest, nil
}
