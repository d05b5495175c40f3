// Package images reports the container images present on the runner host
// through the Docker Engine API.
package images

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"

	"github.com/bdobrica/lcsm/internal/runner/protocol"
)

// untagged is the placeholder Docker reports for dangling images.
const untagged = "<none>:<none>"

// API is the slice of the Docker client the inventory needs.
type API interface {
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
}

// Inventory lists images from a Docker daemon.
type Inventory struct {
	api API
}

// NewDocker connects to the daemon named by DOCKER_HOST, or the default socket.
func NewDocker() (*Inventory, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return New(cli), nil
}

// New wraps an existing API client.
func New(api API) *Inventory {
	return &Inventory{api: api}
}

// List returns the tagged images, newest first. Dangling tags are dropped.
func (i *Inventory) List(ctx context.Context) ([]protocol.Image, error) {
	summaries, err := i.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	out := make([]protocol.Image, 0, len(summaries))
	for _, s := range summaries {
		tags := make([]string, 0, len(s.RepoTags))
		for _, tag := range s.RepoTags {
			if tag != untagged {
				tags = append(tags, tag)
			}
		}
		out = append(out, protocol.Image{
			ID:      s.ID,
			Tags:    tags,
			Size:    s.Size,
			Created: s.Created,
		})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Created > out[b].Created })
	return out, nil
}

// Close releases the underlying client when it holds resources.
func (i *Inventory) Close() error {
	if c, ok := i.api.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
