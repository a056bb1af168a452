package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
)

// PublishedPort is one host port a container publishes.
type PublishedPort struct {
	HostPort  int
	Container string
	Private   int
	Proto     string
}

// PublishedPorts lists the host ports published by running containers,
// ordered by host port.
func (c *Client) PublishedPorts(ctx context.Context) ([]PublishedPort, error) {
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list docker containers: %w", err)
	}

	var out []PublishedPort
	for _, ctr := range containers {
		name := containerName(ctr.Names, ctr.ID)
		for _, p := range ctr.Ports {
			if p.PublicPort == 0 {
				continue
			}
			out = append(out, PublishedPort{
				HostPort:  int(p.PublicPort),
				Container: name,
				Private:   int(p.PrivatePort),
				Proto:     p.Type,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostPort < out[j].HostPort })
	return out, nil
}

// PortOwners maps published host ports to a label naming the container and
// its private port, e.g. "postgres (5432/tcp)". It satisfies
// runner.OwnerLookup.
func (c *Client) PortOwners(ctx context.Context) (map[int]string, error) {
	ports, err := c.PublishedPorts(ctx)
	if err != nil {
		return nil, err
	}
	return ownersByPort(ports), nil
}

// ownersByPort builds the owner labels. A host port published twice (IPv4
// and IPv6 bindings of the same container) is reported once.
func ownersByPort(ports []PublishedPort) map[int]string {
	owners := make(map[int]string, len(ports))
	for _, p := range ports {
		if _, seen := owners[p.HostPort]; seen {
			continue
		}
		label := p.Container
		if p.Private > 0 {
			proto := p.Proto
			if proto == "" {
				proto = "tcp"
			}
			label = fmt.Sprintf("%s (%d/%s)", p.Container, p.Private, proto)
		}
		owners[p.HostPort] = label
	}
	return owners
}

// containerName returns the container's primary name without the leading
// slash the Engine API adds, or the short ID when it has none.
func containerName(names []string, id string) string {
	for _, n := range names {
		if n = strings.TrimPrefix(n, "/"); n != "" {
			return n
		}
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
