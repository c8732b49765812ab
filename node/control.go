package node

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/trumanellis/indra/errs"
)

// ControlSocketName is the fixed filename of the control-plane unix
// socket inside a node's data directory; `indra start` listens on it,
// and the other CLI commands dial it to reach the already-running node
// (§6 "required for the test harness": status/invite/join/send operate
// against a node that `start` keeps running in the foreground).
const ControlSocketName = "control.sock"

// ControlServer answers one-line text requests over a unix socket,
// dispatching into the wrapped Node. Grounded on the teacher's IPC
// endpoint (geth's "attach" socket): a local-only control plane distinct
// from the network-facing packet transport, kept to a minimal line
// protocol since no RPC/serialization library survives the teacher
// dependency trim (§1 JSON-RPC execution API is explicitly out of
// scope).
type ControlServer struct {
	n        *Node
	listener net.Listener
	done     chan struct{}
	closeOne sync.Once
}

// ListenControl opens the control socket inside dataDir. It removes a
// stale socket file left behind by an unclean shutdown before binding.
func ListenControl(n *Node, dataDir string) (*ControlServer, error) {
	path := n.config.ResolvePath(ControlSocketName)
	_ = os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", path, err)
	}
	return &ControlServer{n: n, listener: listener, done: make(chan struct{})}, nil
}

// Serve accepts connections until Close is called, handling each
// request line synchronously before closing that connection.
func (s *ControlServer) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handle(conn)
	}
}

func (s *ControlServer) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	reply := s.dispatch(strings.TrimSpace(line))
	fmt.Fprintln(conn, reply)
}

func (s *ControlServer) dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errLine(errs.Protocol("empty control request", nil))
	}

	ctx := context.Background()
	switch strings.ToUpper(fields[0]) {
	case "STATUS":
		return s.statusLine()
	case "INVITE":
		if len(fields) != 2 {
			return errLine(errs.Protocol("usage: INVITE <label>", nil))
		}
		blob, err := s.n.InviteByLabel(ctx, fields[1])
		if err != nil {
			return errLine(err)
		}
		return "OK " + blob
	case "JOIN":
		if len(fields) != 2 {
			return errLine(errs.Protocol("usage: JOIN <invite-blob>", nil))
		}
		id, err := s.n.JoinChannelFromInvite(fields[1])
		if err != nil {
			return errLine(err)
		}
		return "OK " + fmt.Sprintf("%x", id[:])
	case "SEND":
		if len(fields) != 3 {
			return errLine(errs.Protocol("usage: SEND <label> <base64-payload>", nil))
		}
		payload, err := base64.StdEncoding.DecodeString(fields[2])
		if err != nil {
			return errLine(errs.Protocol("decode send payload", err))
		}
		if err := s.n.SendToLabel(ctx, fields[1], payload); err != nil {
			return errLine(err)
		}
		return "OK"
	default:
		return errLine(errs.Protocol("unknown control command "+fields[0], nil))
	}
}

func (s *ControlServer) statusLine() string {
	report := s.n.Health.CheckAll()
	return fmt.Sprintf("OK status=%s uptime=%ds peer=%s custody=%d/%d",
		report.OverallStatus, report.NodeUptime, s.n.Self().String(),
		s.n.Router.CustodyLen(), s.n.Router.CustodyCapacity())
}

// errLine renders err as a one-line "ERR <kind> <message>" reply; kind
// is the errs.Kind name when err carries one, "fatal" otherwise.
func errLine(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("ERR %s %s: %v", e.Kind, e.Reason, e.Cause)
		}
		return fmt.Sprintf("ERR %s %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("ERR fatal %s", err.Error())
}

// Close stops accepting connections and removes the socket file. Safe
// to call more than once.
func (s *ControlServer) Close() error {
	var err error
	s.closeOne.Do(func() {
		close(s.done)
		err = s.listener.Close()
		_ = os.Remove(s.n.config.ResolvePath(ControlSocketName))
	})
	return err
}

// DialControl connects to a running node's control socket, sends one
// request line, and returns the single-line reply with its trailing
// newline stripped.
func DialControl(dataDir, request string) (string, error) {
	path := resolveControlPath(dataDir)
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("control: dial %s: %w", path, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := fmt.Fprintln(conn, request); err != nil {
		return "", fmt.Errorf("control: write request: %w", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("control: read reply: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

func resolveControlPath(dataDir string) string {
	cfg := Config{DataDir: dataDir}
	return cfg.ResolvePath(ControlSocketName)
}
