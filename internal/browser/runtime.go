// Package browser implements the per-conversation headless browser
// session pool. Each pooled session is backed by a
// short-lived Docker container launched through the Docker Engine API
// client, with Runtime narrowed to the Spawn/Stop pair the pool
// actually needs (no Start/Restart/Status/List/Remove — sessions are
// always fully torn down and relaunched, never paused).
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
)

const (
	labelManagedBy = "spaceduck.managed-by"
	labelConvID    = "spaceduck.conversation-id"
	managedByValue = "spaceduck-browser"

	stopTimeout = 5 * time.Second
)

// Handle identifies one launched browser container.
type Handle struct {
	ConversationID string
	ContainerID    string
	DevToolsURL    string
}

// Runtime abstracts the container backend a Pool launches sessions
// through, narrowed to what a short-lived browser session needs.
type Runtime interface {
	Spawn(ctx context.Context, conversationID string) (Handle, error)
	Stop(ctx context.Context, h Handle) error
}

// DockerRuntime implements Runtime using the Docker Engine API.
type DockerRuntime struct {
	client *dockerclient.Client
	image  string
}

// NewDockerRuntime creates a runtime that launches the given headless
// browser image (e.g. "browserless/chrome") via the local Docker socket.
func NewDockerRuntime(image string) (*DockerRuntime, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("browser: docker client: %w", err)
	}
	return &DockerRuntime{client: cli, image: image}, nil
}

// Spawn launches a new browser container scoped to a conversation.
func (d *DockerRuntime) Spawn(ctx context.Context, conversationID string) (Handle, error) {
	name := containerNameFor(conversationID)
	resp, err := d.client.ContainerCreate(ctx, &container.Config{
		Image: d.image,
		Labels: map[string]string{
			labelManagedBy: managedByValue,
			labelConvID:    conversationID,
		},
	}, nil, nil, nil, name)
	if err != nil {
		return Handle{}, fmt.Errorf("browser: create container: %w", err)
	}
	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Handle{}, fmt.Errorf("browser: start container: %w", err)
	}
	return Handle{ConversationID: conversationID, ContainerID: resp.ID}, nil
}

// Stop stops and removes the container backing h, best-effort.
func (d *DockerRuntime) Stop(ctx context.Context, h Handle) error {
	timeout := int(stopTimeout.Seconds())
	_ = d.client.ContainerStop(ctx, h.ContainerID, container.StopOptions{Timeout: &timeout})
	return d.client.ContainerRemove(ctx, h.ContainerID, container.RemoveOptions{Force: true})
}

func containerNameFor(conversationID string) string {
	return "spaceduck-browser-" + conversationID
}
