package logger

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
)

// Collector is the log-collection endpoint worker processes push records
// to. It accepts connections, decodes the pushed records and replays them
// into a local logger, preserving level, message and attributes.
type Collector struct {
	listener net.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// StartCollector listens on addr (same forms as DialIPCHandler; use
// "127.0.0.1:0" in tests for an ephemeral port) and starts serving. Records
// are replayed into log.
func StartCollector(addr string, log *slog.Logger) (*Collector, error) {
	network, address := splitAddr(addr)
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		listener: listener,
		logger:   log,
		conns:    make(map[net.Conn]struct{}),
	}
	c.wg.Add(1)
	go c.acceptLoop()
	return c, nil
}

// Addr returns the address workers should dial, in the scheme-prefixed
// form DialIPCHandler accepts.
func (c *Collector) Addr() string {
	if c.listener.Addr().Network() == "unix" {
		return "unix://" + c.listener.Addr().String()
	}
	return "tcp://" + c.listener.Addr().String()
}

func (c *Collector) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conns[conn] = struct{}{}
		c.mu.Unlock()

		c.wg.Add(1)
		go c.serveConn(conn)
	}
}

func (c *Collector) serveConn(conn net.Conn) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		_ = conn.Close()
	}()

	dec := json.NewDecoder(conn)
	for {
		var rec wireRecord
		if err := dec.Decode(&rec); err != nil {
			// EOF here is the normal end of a worker's lifetime.
			return
		}
		c.replay(rec)
	}
}

// replay emits a received record into the local logger.
func (c *Collector) replay(rec wireRecord) {
	level, err := ParseLevel(rec.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	attrs := make([]slog.Attr, 0, len(rec.Attrs))
	for k, v := range rec.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	c.logger.LogAttrs(context.Background(), level, rec.Message, attrs...)
}

// Close stops accepting, severs active connections and waits for in-flight
// records to drain.
func (c *Collector) Close() error {
	c.mu.Lock()
	c.closed = true
	for conn := range c.conns {
		_ = conn.Close()
	}
	c.mu.Unlock()

	err := c.listener.Close()
	c.wg.Wait()
	return err
}
