package ipc

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/runner"
)

// DialTimeout bounds how long Dial waits for the socket.
const DialTimeout = 2 * time.Second

// ErrDaemonNotRunning is wrapped by Dial when nothing listens on the socket.
var ErrDaemonNotRunning = errors.New("logdy-runner daemon is not running")

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the daemon socket at path. Connection failures are
// reported as a *model.CLIError with model.ExitDaemonNotRunning.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, &model.CLIError{
			Code:    model.ExitDaemonNotRunning,
			Message: fmt.Sprintf("cannot reach daemon at %s (start it with 'logdy-runner serve')", path),
			Err:     fmt.Errorf("%w: %v", ErrDaemonNotRunning, err),
		}
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	if err := c.client.Call(ServiceName+"."+method, req, resp); err != nil {
		return fmt.Errorf("%s rpc: %w", method, err)
	}
	return nil
}

// Start asks the daemon to start a viewer.
func (c *Client) Start(req StartRequest) (*runner.StartResult, error) {
	var resp StartResponse
	if err := c.call("Start", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error.Err()
	}
	return resp.Result, nil
}

// Stop asks the daemon to stop the viewer for dir.
func (c *Client) Stop(dir string) (model.InstanceInfo, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{Dir: dir}, &resp); err != nil {
		return model.InstanceInfo{}, err
	}
	return resp.Instance, resp.Error.Err()
}

// List returns every running instance.
func (c *Client) List() ([]model.InstanceInfo, error) {
	var resp ListResponse
	if err := c.call("List", ListRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

// Lookup returns the instance for dir.
func (c *Client) Lookup(dir string) (model.InstanceInfo, bool, error) {
	var resp LookupResponse
	if err := c.call("Lookup", LookupRequest{Dir: dir}, &resp); err != nil {
		return model.InstanceInfo{}, false, err
	}
	return resp.Instance, resp.Found, nil
}

// Ports returns the port usage report for the configured range.
func (c *Client) Ports() (*PortsResponse, error) {
	var resp PortsResponse
	if err := c.call("Ports", PortsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon to stop every instance and exit.
func (c *Client) Shutdown() error {
	var resp ShutdownResponse
	return c.call("Shutdown", ShutdownRequest{}, &resp)
}
