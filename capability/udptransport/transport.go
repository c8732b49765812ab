// Package udptransport implements capability.Transport over a single UDP
// socket. It is grounded on the teacher's p2p NAT traversal layer
// (nat_manager.go, nat_traversal.go), which paired raw socket handling
// with STUN-based external address discovery; this package keeps the
// STUN half via github.com/pion/stun and drops UPnP/NAT-PMP port mapping,
// since a store-and-forward relay network has no listening TCP service
// to advertise a mapping for in the first place.
package udptransport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pion/stun/v2"

	"github.com/trumanellis/indra/capability"
)

// inbound is one datagram read off the shared socket, queued for Receive.
type inbound struct {
	hint  string
	frame []byte
}

// Transport is a capability.Transport backed by one UDP socket shared by
// every dialed peer, matching the teacher's p2p.Server model of one
// listening endpoint fanning out to many peer sessions.
type Transport struct {
	conn *net.UDPConn

	mu      sync.Mutex
	peers   map[string]*connHandle
	closed  bool
	closeCh chan struct{}

	in chan inbound
}

// Listen opens a UDP socket on listenAddr (e.g. ":4433") and starts the
// background read loop. Pass an empty listenAddr to bind an ephemeral
// port, matching net.ListenUDP's behavior with port 0.
func Listen(listenAddr string) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("udptransport: resolve %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udptransport: listen %q: %w", listenAddr, err)
	}

	t := &Transport{
		conn:    conn,
		peers:   make(map[string]*connHandle),
		closeCh: make(chan struct{}),
		in:      make(chan inbound, 256),
	}
	go t.readLoop()
	return t, nil
}

// LocalAddr returns the socket's bound local address.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// ExternalAddr performs a one-shot STUN binding request against a public
// STUN server to discover this node's externally visible address, the
// same discovery the teacher's NAT traversal layer performs before
// advertising a relay hint.
func (t *Transport) ExternalAddr(stunServer string) (*net.UDPAddr, error) {
	client, err := stun.Dial("udp4", stunServer)
	if err != nil {
		return nil, fmt.Errorf("udptransport: stun dial %s: %w", stunServer, err)
	}
	defer client.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var result net.UDPAddr
	var doErr error
	err = client.Do(message, func(res stun.Event) {
		if res.Error != nil {
			doErr = res.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if getErr := xorAddr.GetFrom(res.Message); getErr != nil {
			doErr = getErr
			return
		}
		result = net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}
	})
	if err != nil {
		return nil, fmt.Errorf("udptransport: stun request: %w", err)
	}
	if doErr != nil {
		return nil, fmt.Errorf("udptransport: stun response: %w", doErr)
	}
	return &result, nil
}

// Dial resolves addrHint and returns a handle the router can Send frames
// over. A UDP "session" has no handshake; Dial just remembers the
// resolved address so repeated Dials to the same hint reuse one handle,
// mirroring capability.Transport's "establishes or reuses" contract.
func (t *Transport) Dial(ctx context.Context, addrHint string) (capability.ConnectionHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("udptransport: closed")
	}
	if h, ok := t.peers[addrHint]; ok {
		return h, nil
	}

	remote, err := net.ResolveUDPAddr("udp", addrHint)
	if err != nil {
		return nil, fmt.Errorf("udptransport: resolve %q: %w", addrHint, err)
	}
	h := &connHandle{t: t, remote: remote, hint: addrHint}
	t.peers[addrHint] = h
	return h, nil
}

// Receive blocks until a datagram arrives or ctx is cancelled.
func (t *Transport) Receive(ctx context.Context) (string, []byte, error) {
	select {
	case f, ok := <-t.in:
		if !ok {
			return "", nil, fmt.Errorf("udptransport: closed")
		}
		return f.hint, f.frame, nil
	case <-t.closeCh:
		return "", nil, fmt.Errorf("udptransport: closed")
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// Close shuts down the socket and the read loop. Safe to call more than
// once.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	t.mu.Unlock()
	return t.conn.Close()
}

// readLoop pulls datagrams off the socket and queues them for Receive.
// Frames larger than the MTU-sized buffer are silently truncated by
// ReadFromUDP, matching plain UDP semantics: this transport does no
// fragmentation or reassembly, leaving it to the wire layer to keep
// frames small.
func (t *Transport) readLoop() {
	buf := make([]byte, 65507)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closeCh:
				close(t.in)
				return
			default:
			}
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])

		select {
		case t.in <- inbound{hint: addr.String(), frame: frame}:
		case <-t.closeCh:
			return
		}
	}
}

// connHandle is a capability.ConnectionHandle for one resolved peer
// address on the shared socket.
type connHandle struct {
	t      *Transport
	remote *net.UDPAddr
	hint   string
}

func (h *connHandle) Send(ctx context.Context, frame []byte) error {
	if h.t.closed {
		return fmt.Errorf("udptransport: closed")
	}
	_, err := h.t.conn.WriteToUDP(frame, h.remote)
	if err != nil {
		return fmt.Errorf("udptransport: write to %s: %w", h.hint, err)
	}
	return nil
}

func (h *connHandle) Closed() bool { return h.t.closed }

func (h *connHandle) RemoteHint() string { return h.hint }
