// Package docker attributes bound host ports to Docker containers.
//
// The port report of the runner shows who holds each busy port in the
// configured range. Ports published by containers are the most common
// foreign owner on a developer machine, so this package asks the Docker
// Engine for running containers and maps their published host ports to
// container names. Docker is optional: when no daemon is reachable the
// report falls back to "unknown" owners.
package docker
