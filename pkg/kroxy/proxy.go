package kroxy

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProxyConfig is the static, outer-layer-supplied configuration for one
// listening virtual cluster (§1: the core consumes a VirtualCluster
// descriptor, a NetFilter, and an ordered filter list — everything else is
// an external collaborator).
type ProxyConfig struct {
	VirtualCluster    VirtualCluster
	NetFilter         NetFilter
	FilterFactory     FilterFactory
	CannedAPIVersions *CannedAPIVersions
	AuthOffload       bool
	Hooks             HookSet
	FilterTimeout     time.Duration
	ConnectTimeout    time.Duration
	Logger            Logger
}

// Proxy owns a listener for one virtual cluster and spawns a
// FrontendHandler per accepted connection, mirroring the teacher's
// BifrostProxy.Start/acceptLoop/handleConnection shape generalized from
// SASL+rewriter-driven routing to NetFilter+Filter-chain routing.
type Proxy struct {
	cfg      ProxyConfig
	listener net.Listener

	mu      sync.Mutex
	active  map[string]net.Conn
	total   int64
	closing chan struct{}
	wg      sync.WaitGroup
}

// NewProxy wraps an already-bound listener (TLS/SNI termination, if any, is
// an out-of-scope outer-layer concern per §1 and happens before this
// listener is handed to the core).
func NewProxy(listener net.Listener, cfg ProxyConfig) *Proxy {
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	if cfg.FilterTimeout <= 0 {
		cfg.FilterTimeout = DefaultFilterHookTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Proxy{
		cfg:      cfg,
		listener: listener,
		active:   make(map[string]net.Conn),
		closing:  make(chan struct{}),
	}
}

// Start runs the accept loop until Stop is called or the listener errors.
func (p *Proxy) Start() error {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.closing:
				return nil
			default:
				return err
			}
		}
		p.wg.Add(1)
		go p.handleConnection(conn)
	}
}

func (p *Proxy) handleConnection(conn net.Conn) {
	defer p.wg.Done()

	id := uuid.NewString()
	p.mu.Lock()
	p.active[id] = conn
	p.total++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, id)
		p.mu.Unlock()
	}()

	handler := NewFrontendHandler(conn, FrontendConfig{
		VirtualCluster:    p.cfg.VirtualCluster,
		NetFilter:         p.cfg.NetFilter,
		FilterFactory:     p.cfg.FilterFactory,
		CannedAPIVersions: p.cfg.CannedAPIVersions,
		AuthOffload:       p.cfg.AuthOffload,
		Hooks:             p.cfg.Hooks,
		FilterTimeout:     p.cfg.FilterTimeout,
		ConnectTimeout:    p.cfg.ConnectTimeout,
		Logger:            p.cfg.Logger,
	})
	if err := handler.Run(); err != nil {
		p.cfg.Logger.Debugf("connection %s from %s ended: %v", id, conn.RemoteAddr(), err)
	}
}

// Stop closes the listener and every active connection, then waits for
// their handler goroutines to return.
func (p *Proxy) Stop() error {
	close(p.closing)
	err := p.listener.Close()

	p.mu.Lock()
	for _, c := range p.active {
		c.Close()
	}
	p.mu.Unlock()

	p.wg.Wait()
	return err
}

// ActiveConnections reports the number of currently handled connections.
func (p *Proxy) ActiveConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// TotalConnections reports the lifetime count of accepted connections.
func (p *Proxy) TotalConnections() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
