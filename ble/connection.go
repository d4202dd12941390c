package ble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Fixed timeout for establishing a new connection.
const ConnectTimeout = 5 * time.Second

var ErrTooManyConnections = errors.New("too many simultaneous connections")

var (
	successfulConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gravmon_gateway_ble_successful_connections_total",
	})
	failedConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gravmon_gateway_ble_failed_connections_total",
	})
	connectionsFromPoolCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gravmon_gateway_ble_reused_connections_total",
	})
	disconnectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gravmon_gateway_ble_disconnections_total",
	})
)

type connectionPool struct {
	mu sync.Mutex

	max int
	// when false connections are dropped from the pool as soon as they are released.
	persist bool
	connections map[string]Client
}

func initConnectionPool(max int) *connectionPool {
	if max <= 0 {
		max = DefaultMaxConnections
	}

	return &connectionPool{
		max: max,
		persist: true,
		connections: make(map[string]ble.Client),
	}
}

// IsConnected reports whether the link of c is still up.
func IsConnected(c Client) bool {
	select {
	case <-c.Disconnected():
		return false
	default:
		return true
	}
}

// Pooled returns the client previously opened for addr, if any. The client may
// have lost its link in the meantime, see IsConnected.
func (h *Handle) Pooled(addr string) (Client, bool) {
	h.connPool.mu.Lock()
	defer h.connPool.mu.Unlock()

	c, ok := h.connPool.connections[addr]

	if ok {
		connectionsFromPoolCounter.Inc()
		log.Trace().Str("Addr", addr).Msg("ble: found connection in connection pool")
	}

	return c, ok
}

// Must be called with mu held.
func (p *connectionPool) live() (n int) {
	for _, c := range p.connections {
		if IsConnected(c) {
			n++
		}
	}

	return n
}

// Connections returns the number of pooled clients whose link is still up. A
// client disconnected locally stays pooled until its watchdog runs, it is not
// counted against the limit meanwhile.
func (h *Handle) Connections() int {
	h.connPool.mu.Lock()
	defer h.connPool.mu.Unlock()

	return h.connPool.live()
}

func (h *Handle) MaxConnections() int {
	return h.connPool.max
}

// Dial opens a new connection to addr and stores it in the pool. Fails with
// ErrTooManyConnections once the pool is full.
func (h *Handle) Dial(parentCtx context.Context, addr string) (Client, error) {
	h.connPool.mu.Lock()
	defer h.connPool.mu.Unlock()

	if h.connPool.live() >= h.connPool.max {
		failedConnectionsCounter.Inc()
		return nil, ErrTooManyConnections
	}

	ctx, cancel := context.WithTimeout(parentCtx, ConnectTimeout)
	defer cancel()

	conn, err := ble.Dial(ctx, ble.NewAddr(addr))

	if err != nil {
		failedConnectionsCounter.Inc()
		return nil, err
	}

	successfulConnectionsCounter.Inc()

	h.connPool.connections[addr] = conn
	log.Debug().Str("Addr", addr).Msg("ble: successfully opened new connection to device")

	// spawn a watchdog removing the entry from the connection pool when the connection breaks.
	go func() {
		<-conn.Disconnected()

		disconnectsCounter.Inc()
		log.Debug().Str("Addr", addr).Msg("ble: connection with device closed, cleaning up")

		h.connPool.mu.Lock()
		defer h.connPool.mu.Unlock()

		if h.connPool.connections[addr] == conn {
			delete(h.connPool.connections, addr)
		}
	}()

	return conn, nil
}

// Disconnect closes the link of the client opened for addr. The client stays in
// the pool until the link is reported down, unless connections are not persisted.
func (h *Handle) Disconnect(addr string) error {
	h.connPool.mu.Lock()
	defer h.connPool.mu.Unlock()

	conn, ok := h.connPool.connections[addr]

	if !ok {
		return nil
	}

	if !h.connPool.persist {
		delete(h.connPool.connections, addr)
	}

	return conn.CancelConnection()
}

// Release drops the client opened for addr from the pool, closing it if needed.
func (h *Handle) Release(addr string) {
	h.connPool.mu.Lock()
	defer h.connPool.mu.Unlock()

	conn, ok := h.connPool.connections[addr]

	if !ok {
		return
	}

	delete(h.connPool.connections, addr)

	if IsConnected(conn) {
		if err := conn.CancelConnection(); err != nil {
			log.Debug().Err(err).Str("Addr", addr).Msg("ble: failed to close released connection")
		}
	}
}

// Clear the connection pool and close all connections.
func (h *Handle) DisconnectAll() {
	h.connPool.mu.Lock()
	defer h.connPool.mu.Unlock()

	for _, conn := range h.connPool.connections {
		conn.CancelConnection()
	}

	h.connPool.connections = make(map[string]ble.Client)
}
