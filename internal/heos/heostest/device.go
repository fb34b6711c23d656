// Package heostest provides an in-process fake of the CLI protocol for tests.
package heostest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
)

// Request is one command line received by a fake device.
type Request struct {
	Line string
	Path string
	Args map[string]string
}

// HandlerFunc answers a request with zero or more raw chunks. Each chunk is
// written with a separate Write call so tests can split objects mid-stream.
type HandlerFunc func(req Request) []string

// Device is a fake player listening on 127.0.0.1.
type Device struct {
	t        testing.TB
	listener net.Listener

	mu       sync.Mutex
	handler  HandlerFunc
	routes   map[string]HandlerFunc
	requests []Request
	conns    map[net.Conn]struct{}
	accepted int

	wg sync.WaitGroup
}

// NewDevice starts a fake device. It is closed automatically via t.Cleanup.
func NewDevice(t testing.TB) *Device {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &Device{
		t:        t,
		listener: listener,
		routes:   make(map[string]HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
	}
	d.wg.Add(1)
	go d.acceptLoop()
	t.Cleanup(d.Close)
	return d
}

// Addr returns host:port of the listener.
func (d *Device) Addr() string { return d.listener.Addr().String() }

// Port returns the listening port.
func (d *Device) Port() int { return d.listener.Addr().(*net.TCPAddr).Port }

// Handle registers a handler for a group/action path.
func (d *Device) Handle(path string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[path] = handler
}

// Reply registers a fixed success response for a path.
func (d *Device) Reply(path, message string, payload any) {
	d.Handle(path, func(req Request) []string {
		return []string{Response(path, "success", message, payload)}
	})
}

// Fallback handles any path without a registered handler.
func (d *Device) Fallback(handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

// Requests returns every command received so far.
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Request, len(d.requests))
	copy(out, d.requests)
	return out
}

// Paths returns the group/action of every command received so far.
func (d *Device) Paths() []string {
	requests := d.Requests()
	paths := make([]string, 0, len(requests))
	for _, req := range requests {
		paths = append(paths, req.Path)
	}
	return paths
}

// Accepted returns how many connections were accepted.
func (d *Device) Accepted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accepted
}

// Push writes an unsolicited frame to every open connection.
func (d *Device) Push(frame string) {
	d.mu.Lock()
	conns := make([]net.Conn, 0, len(d.conns))
	for conn := range d.conns {
		conns = append(conns, conn)
	}
	d.mu.Unlock()
	for _, conn := range conns {
		_, _ = conn.Write([]byte(frame))
	}
}

// DropConnections closes every open connection without stopping the listener.
func (d *Device) DropConnections() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for conn := range d.conns {
		_ = conn.Close()
		delete(d.conns, conn)
	}
}

// Close stops the listener and all connections.
func (d *Device) Close() {
	_ = d.listener.Close()
	d.DropConnections()
	d.wg.Wait()
}

func (d *Device) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns[conn] = struct{}{}
		d.accepted++
		d.mu.Unlock()

		d.wg.Add(1)
		go d.serve(conn)
	}
}

func (d *Device) serve(conn net.Conn) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		req := ParseRequest(strings.TrimRight(line, "\r\n"))

		d.mu.Lock()
		d.requests = append(d.requests, req)
		handler := d.routes[req.Path]
		if handler == nil {
			handler = d.handler
		}
		d.mu.Unlock()

		var chunks []string
		if handler != nil {
			chunks = handler(req)
		} else {
			chunks = []string{Response(req.Path, "fail", "eid=1&text=unrecognized command", nil)}
		}
		for _, chunk := range chunks {
			if _, err := conn.Write([]byte(chunk)); err != nil {
				return
			}
		}
	}
}

// ParseRequest splits heos://group/action?k=v&k=v into its parts.
func ParseRequest(line string) Request {
	req := Request{Line: line, Args: make(map[string]string)}
	rest := strings.TrimPrefix(line, "heos://")
	path, query, _ := strings.Cut(rest, "?")
	req.Path = path
	if query == "" {
		return req
	}
	for _, part := range strings.Split(query, "&") {
		key, value, _ := strings.Cut(part, "=")
		req.Args[key] = value
	}
	return req
}

// Response renders a CLI response object. payload is omitted when nil.
func Response(command, result, message string, payload any) string {
	body := map[string]any{
		"heos": map[string]any{
			"command": command,
			"result":  result,
			"message": message,
		},
	}
	if payload != nil {
		body["payload"] = payload
	}
	data, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("heostest: marshal response: %v", err))
	}
	return string(data) + "\r\n"
}

// Event renders an unsolicited event frame.
func Event(name, message string) string {
	body := map[string]any{
		"heos": map[string]any{
			"command": "event/" + name,
			"message": message,
		},
	}
	data, _ := json.Marshal(body)
	return string(data) + "\r\n"
}

// Provisional renders the interim response sent while a command is running.
func Provisional(command, message string) string {
	if message != "" {
		message = "command under process&" + message
	} else {
		message = "command under process"
	}
	return Response(command, "success", message, nil)
}

// Network maps logical host names to fake devices so several hosts can be
// simulated on loopback.
type Network struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{devices: make(map[string]*Device)}
}

// Add registers a device under host.
func (n *Network) Add(host string, device *Device) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.devices[host] = device
}

// Dial resolves host:port through the registered devices. Unknown hosts are
// refused.
func (n *Network) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	device := n.devices[host]
	n.mu.Unlock()
	if device == nil {
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, network, device.Addr())
}
