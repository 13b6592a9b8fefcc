package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Client issues one command per connection to a running daemon.
type Client struct {
	network string
	address string
	key     []byte
}

func NewClient(network, address, key string) *Client {
	return &Client{network: network, address: address, key: []byte(key)}
}

func (c *Client) roundTrip(cmd Command) (Response, error) {
	conn, err := net.DialTimeout(c.network, c.address, connTimeout)
	if err != nil {
		return Response{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	if err := authenticateClient(conn, c.key); err != nil {
		return Response{}, err
	}

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return Response{}, fmt.Errorf("send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if !resp.OK {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// Scan requests a scan of the named root folders, or all of them when empty.
func (c *Client) Scan(folders []string, force bool) error {
	_, err := c.roundTrip(Command{Op: OpScan, Folders: folders, Force: force})
	return err
}

// Progress reports how many files the active scan has visited; scanning is
// false when the daemon is idle.
func (c *Client) Progress() (scanned int, scanning bool, err error) {
	resp, err := c.roundTrip(Command{Op: OpProgress})
	if err != nil {
		return 0, false, err
	}
	return resp.Scanned, resp.Scanning, nil
}

func (c *Client) Watch(path string) error {
	_, err := c.roundTrip(Command{Op: OpWatch, Path: path})
	return err
}

func (c *Client) Unwatch(path string) error {
	_, err := c.roundTrip(Command{Op: OpUnwatch, Path: path})
	return err
}
