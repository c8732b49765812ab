package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trumanellis/indra/artifact"
	"github.com/trumanellis/indra/capability"
	"github.com/trumanellis/indra/channel"
	"github.com/trumanellis/indra/identity"
	"github.com/trumanellis/indra/log"
	"github.com/trumanellis/indra/router"
)

// Node is the top-level Indra's Network node that wires identity, the
// channel directory, the packet router, and the artifact store into one
// process, and manages their start/stop order through a ServiceRegistry.
type Node struct {
	config *Config
	logger *log.Logger

	keypair identity.Keypair
	self    identity.PeerID

	Channels  *channel.Directory
	Router    *router.Router
	Artifacts *artifact.Store
	Binding   *router.ChannelBinding

	transport capability.Transport
	storage   capability.Storage

	registry *ServiceRegistry
	recovery *RecoveryPolicy
	Events   *EventBus
	Health   *HealthChecker

	mu           sync.Mutex
	running      bool
	stop         chan struct{}
	wg           sync.WaitGroup
	pumpCancel   context.CancelFunc
	retryCancel  context.CancelFunc
	routerEvDone chan struct{}
}

// Deps bundles the capability implementations a Node is constructed
// with. Crypto, Transport and Storage must be supplied by the caller;
// cmd/indra passes capability/udptransport and capability/memstore for
// the latter two.
type Deps struct {
	Crypto    capability.CryptoProvider
	Transport capability.Transport
	Storage   capability.Storage
	Seal      router.PayloadSeal
	Keypair   *identity.Keypair // optional; generated from Crypto if nil
}

// New creates a new Node with the given configuration and dependencies.
// It wires every subsystem but starts nothing until Start is called.
func New(config *Config, deps Deps) (*Node, error) {
	if config == nil {
		c := DefaultConfig()
		config = &c
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Crypto == nil {
		return nil, errors.New("node: deps.Crypto is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("node: deps.Transport is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("node: deps.Storage is required")
	}

	kp := deps.Keypair
	if kp == nil {
		generated, err := identity.Generate(deps.Crypto)
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		kp = &generated
	}
	self := identity.PeerIDFromPublic(deps.Crypto, kp.Public)

	log.SetDefault(log.New(config.SlogLevel()))
	logger := log.Default().Module("node").With("node", config.Name, "peer", self.String())

	seal := deps.Seal
	if seal == nil {
		seal = router.NewKEMSeal(deps.Crypto, kp.Secret)
	}

	n := &Node{
		config:    config,
		logger:    logger,
		keypair:   *kp,
		self:      self,
		transport: deps.Transport,
		storage:   deps.Storage,
		stop:      make(chan struct{}),
		Events:    NewEventBus(config.EventQueueSize),
		Health:    NewHealthChecker(),
	}

	n.Channels = channel.New(deps.Crypto, self)
	n.Router = router.New(self, deps.Crypto, deps.Transport, seal)
	n.Binding = router.NewChannelBinding(n.Channels, n.Router)
	n.Artifacts = artifact.New(deps.Crypto, deps.Storage, n.Binding)

	n.Health.RegisterSubsystem("channels", channelsHealth{n: n})
	n.Health.RegisterSubsystem("router", routerHealth{n: n})

	n.registry = NewServiceRegistry(0)
	n.recovery = NewRecoveryPolicy()
	if err := n.recovery.Register("transport", DefaultRecoveryConfig()); err != nil {
		return nil, fmt.Errorf("register recovery policy: %w", err)
	}
	if err := n.registerServices(); err != nil {
		return nil, fmt.Errorf("register services: %w", err)
	}

	return n, nil
}

// registerServices wires the node's subsystems into the ServiceRegistry,
// mirroring the priority tiers the teacher assigns to storage, then
// network, then API-facing services.
func (n *Node) registerServices() error {
	if err := n.registry.Register(&ServiceDescriptor{
		Name:     "datadir",
		Service:  dataDirService{cfg: n.config},
		Priority: 0,
	}); err != nil {
		return err
	}
	if err := n.registry.Register(&ServiceDescriptor{
		Name:     "transport",
		Service:  transportPumpService{n: n},
		Priority: 10,
	}); err != nil {
		return err
	}
	if err := n.registry.Register(&ServiceDescriptor{
		Name:         "router",
		Service:      routerEventService{n: n},
		Dependencies: []string{"transport"},
		Priority:     20,
	}); err != nil {
		return err
	}
	if err := n.registry.Register(&ServiceDescriptor{
		Name:         "router-retry",
		Service:      routerRetryService{n: n},
		Dependencies: []string{"router"},
		Priority:     30,
	}); err != nil {
		return err
	}
	return nil
}

// Start starts all node subsystems in dependency order.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return errors.New("node already running")
	}

	n.logger.Info("starting node", "datadir", n.config.DataDir)
	n.Health.SetStartTime(time.Now().Unix())

	if errs := n.registry.Start(); len(errs) > 0 {
		return fmt.Errorf("start subsystems: %w", errors.Join(errs...))
	}

	n.running = true
	n.logger.Info("node started")
	return nil
}

// Stop gracefully shuts down all subsystems in reverse start order.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}

	n.logger.Info("stopping node")

	var stopErr error
	if errs := n.registry.Stop(); len(errs) > 0 {
		stopErr = errors.Join(errs...)
	}

	n.Events.Close()
	n.running = false
	close(n.stop)
	n.logger.Info("node stopped")
	return stopErr
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() {
	<-n.stop
}

// Running reports whether the node is currently running.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Self returns the node's own peer identity.
func (n *Node) Self() identity.PeerID { return n.self }

// Keypair returns the node's signing+KEM keypair.
func (n *Node) Keypair() identity.Keypair { return n.keypair }

// Config returns the node configuration.
func (n *Node) Config() *Config { return n.config }

// channelsHealth reports the channel directory healthy as long as it can
// be queried at all; there is no failure mode to distinguish yet beyond
// "responds".
type channelsHealth struct{ n *Node }

func (h channelsHealth) Check() *SubsystemHealth {
	return &SubsystemHealth{Status: StatusHealthy, Message: "channel directory responsive"}
}

// routerHealth reports degraded once custody has accumulated a backlog
// large enough that storage-pressure eviction (§4.3.6) would soon start
// discarding packets, and unhealthy once it is actually at capacity.
type routerHealth struct{ n *Node }

func (h routerHealth) Check() *SubsystemHealth {
	custody := h.n.Router.CustodyLen()
	capacity := h.n.Router.CustodyCapacity()

	status := StatusHealthy
	msg := "custody within bounds"
	if capacity > 0 {
		switch {
		case custody >= capacity:
			status = StatusUnhealthy
			msg = "custody at capacity, evicting under storage pressure"
		case custody >= capacity*3/4:
			status = StatusDegraded
			msg = "custody approaching capacity"
		}
	}
	return &SubsystemHealth{
		Status:  status,
		Message: fmt.Sprintf("%s (%d/%d held)", msg, custody, capacity),
	}
}

// dataDirService creates the on-disk layout as the registry's
// lowest-priority (first-started) service; everything else assumes the
// directories already exist.
type dataDirService struct {
	cfg *Config
}

func (s dataDirService) Name() string { return "datadir" }
func (s dataDirService) Start() error { return s.cfg.InitDataDir() }
func (s dataDirService) Stop() error  { return nil }

// transportPumpService runs the goroutine that pulls frames off the
// transport and hands them to the router, grounded on the teacher's
// p2p.Server accept loop.
type transportPumpService struct {
	n *Node
}

func (s transportPumpService) Name() string { return "transport" }

func (s transportPumpService) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.n.pumpCancel = cancel
	s.n.wg.Add(1)
	go s.n.pumpFrames(ctx)
	return nil
}

func (s transportPumpService) Stop() error {
	if s.n.pumpCancel != nil {
		s.n.pumpCancel()
	}
	s.n.wg.Wait()
	return nil
}

// routerEventService drains router.Subscribe and republishes onto the
// node-level EventBus, so a single subscription surface (the CLI, a
// future control API) observes every subsystem.
type routerEventService struct {
	n *Node
}

func (s routerEventService) Name() string { return "router" }

func (s routerEventService) Start() error {
	ch := s.n.Router.Subscribe(s.n.config.EventQueueSize)
	s.n.routerEvDone = make(chan struct{})
	s.n.wg.Add(1)
	go func() {
		defer s.n.wg.Done()
		for {
			select {
			case ev := <-ch:
				s.n.republish(ev)
			case <-s.n.routerEvDone:
				return
			}
		}
	}()
	return nil
}

// Stop signals the republish goroutine to exit. Router.Subscribe has no
// matching Unsubscribe, so the channel itself is left open and simply
// abandoned; only the goroutine reading from it is torn down.
func (s routerEventService) Stop() error {
	close(s.n.routerEvDone)
	return nil
}

// routerRetryTick is how often routerRetryService drains the router's
// retry backlog, independent of the per-packet backoff each held packet
// tracks on its own.
const routerRetryTick = 2 * time.Second

// routerRetryService periodically drains the router's held-packet retry
// queue (§4.3.6), so a destination that becomes reachable only through
// gossip (not a fresh AddDirectPeer call) still gets retried eventually.
type routerRetryService struct {
	n *Node
}

func (s routerRetryService) Name() string { return "router-retry" }

func (s routerRetryService) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.n.retryCancel = cancel
	s.n.wg.Add(1)
	go func() {
		defer s.n.wg.Done()
		ticker := time.NewTicker(routerRetryTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.n.Router.RetryPending(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s routerRetryService) Stop() error {
	if s.n.retryCancel != nil {
		s.n.retryCancel()
	}
	return nil
}

// pumpFrames is the node's receive loop: it blocks on transport.Receive
// and feeds every incoming frame to the router, exiting when ctx is
// cancelled.
func (n *Node) pumpFrames(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, frame, err := n.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff, recErr := n.recovery.RecordFailure("transport", err)
			if recErr != nil {
				n.logger.Error("transport exhausted recovery retries", "err", recErr)
				return
			}
			n.logger.Warn("transport receive error, backing off", "err", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		n.recovery.RecordSuccess("transport")
		// capability.Transport.Receive identifies the sender by an address
		// hint, not a PeerID. Mapping a hint to the PeerID that dialed it
		// is a concrete Transport's job (done during its own handshake,
		// before AddDirectPeer registers the session); none exists yet, so
		// fromPeer is reported as unknown here.
		if err := n.Router.HandleFrame(ctx, identity.PeerID{}, frame); err != nil {
			n.logger.Debug("dropped inbound frame", "err", err)
		}
	}
}

// republish forwards a router.Event onto the node-level event bus under
// the matching EventType.
func (n *Node) republish(ev router.Event) {
	var t EventType
	switch ev.Kind {
	case "forwarded":
		t = EventPacketForwarded
	case "delivered":
		t = EventPacketDelivered
	case "dropped":
		t = EventPacketDropped
	default:
		return
	}
	n.Events.PublishAsync(t, ev)
}
