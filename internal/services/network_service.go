package services

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	psnet "github.com/shirou/gopsutil/net"
)

// NetworkMonitor periodically probes connectivity and broadcasts changes.
type NetworkMonitor struct {
	ProbeAddress string
	ProbeTimeout time.Duration
	Interval     time.Duration
	Logger       zerolog.Logger

	probe     func(ctx context.Context) bool
	available atomic.Bool

	mu          sync.Mutex
	subscribers map[int]chan bool
	nextID      int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNetworkMonitor creates a monitor dialling probeAddress. An empty address
// only checks for an active network interface.
func NewNetworkMonitor(probeAddress string, probeTimeout, interval time.Duration, logger zerolog.Logger) *NetworkMonitor {
	n := &NetworkMonitor{
		ProbeAddress: probeAddress,
		ProbeTimeout: probeTimeout,
		Interval:     interval,
		Logger:       logger,
		subscribers:  make(map[int]chan bool),
	}
	n.probe = n.defaultProbe
	return n
}

// Start runs a first probe synchronously and then keeps probing in the background.
func (n *NetworkMonitor) Start() error {
	if n.ctx != nil {
		return errors.New("network monitor is already running")
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())

	n.update(n.probe(n.ctx))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.run()
	}()

	n.Logger.Info().Bool("available", n.Available()).Dur("interval", n.Interval).Msg("NetworkMonitor started successfully")
	return nil
}

// Stop ends probing. Subscriptions stay open until their contexts end.
func (n *NetworkMonitor) Stop() error {
	if n.ctx == nil {
		return errors.New("network monitor is not running")
	}
	n.cancel()
	n.wg.Wait()
	n.ctx = nil
	n.cancel = nil

	n.Logger.Info().Msg("NetworkMonitor stopped successfully")
	return nil
}

// Available reports the result of the last probe.
func (n *NetworkMonitor) Available() bool {
	return n.available.Load()
}

// Subscribe returns a channel that first receives the current availability and
// then every change. Only the newest unread value is kept. The channel is closed
// when ctx is done.
func (n *NetworkMonitor) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subscribers[id] = ch
	ch <- n.available.Load()
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subscribers, id)
		close(ch)
		n.mu.Unlock()
	}()

	return ch
}

func (n *NetworkMonitor) run() {
	ticker := time.NewTicker(n.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.update(n.probe(n.ctx))
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *NetworkMonitor) update(available bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.available.Swap(available) == available {
		return
	}

	if available {
		n.Logger.Info().Msg("Network connection restored")
	} else {
		n.Logger.Warn().Msg("Network connection lost")
	}

	for _, ch := range n.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- available
	}
}

func (n *NetworkMonitor) defaultProbe(ctx context.Context) bool {
	if !hasActiveInterface(n.Logger) {
		return false
	}
	if n.ProbeAddress == "" {
		return true
	}

	dialer := net.Dialer{Timeout: n.ProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", n.ProbeAddress)
	if err != nil {
		n.Logger.Debug().Err(err).Str("address", n.ProbeAddress).Msg("Connectivity probe failed")
		return false
	}
	_ = conn.Close()
	return true
}

// hasActiveInterface reports whether any non-loopback interface is up.
func hasActiveInterface(logger zerolog.Logger) bool {
	interfaces, err := psnet.Interfaces()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list network interfaces")
		return false
	}

	for _, iface := range interfaces {
		var up, loopback bool
		for _, flag := range iface.Flags {
			switch flag {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}
		if up && !loopback {
			return true
		}
	}
	return false
}
