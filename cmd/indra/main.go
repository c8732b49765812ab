// Command indra is the reference CLI for running and driving an
// Indra's Network node (§6):
//
//	indra start --data-dir PATH
//	indra status --data-dir PATH
//	indra invite --data-dir PATH <channel>
//	indra join   --data-dir PATH <invite-blob>
//	indra send   --data-dir PATH <channel> <utf8-bytes>
//
// start runs a node in the foreground, listening on its control socket
// for the other subcommands to dial into. status/invite/join/send are
// thin clients that dial that socket, so they must be run against a
// data directory that already has a `start`ed node attached to it.
package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/trumanellis/indra/capability/memstore"
	"github.com/trumanellis/indra/capability/pqcprovider"
	"github.com/trumanellis/indra/capability/udptransport"
	"github.com/trumanellis/indra/node"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the testable entry point: it returns an exit code rather than
// calling os.Exit directly (mirrors the teacher's run(args) pattern).
func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "start":
		return runStart(rest)
	case "status":
		return runControlCommand(rest, 0, "STATUS")
	case "invite":
		return runControlCommand(rest, 1, "INVITE")
	case "join":
		return runControlCommand(rest, 1, "JOIN")
	case "send":
		return runSend(rest)
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "indra: unknown command %q\n", cmd)
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: indra <command> [flags] [args]

commands:
  start --data-dir PATH [--listen ADDR] [--stun ADDR]
  status --data-dir PATH
  invite --data-dir PATH <channel>
  join   --data-dir PATH <invite-blob>
  send   --data-dir PATH <channel> <utf8-bytes>`)
}

// runStart parses --data-dir/--listen/--stun, builds a Node over the
// concrete memstore/udptransport capabilities, starts it, opens its
// control socket, and blocks until SIGINT/SIGTERM.
func runStart(args []string) int {
	fs := newCustomFlagSet("indra start")
	dataDir := fs.String("data-dir", "", "data directory (required)")
	listen := fs.String("listen", "0.0.0.0:0", "UDP address to listen on")
	stunServer := fs.String("stun", "", "STUN server for external address discovery (optional)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "indra start: %v\n", err)
		return 2
	}
	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "indra start: --data-dir is required")
		return 2
	}

	cfg := node.DefaultConfig()
	cfg.DataDir = *dataDir
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "indra start: invalid config: %v\n", err)
		return 2
	}
	if err := cfg.InitDataDir(); err != nil {
		fmt.Fprintf(os.Stderr, "indra start: init data dir: %v\n", err)
		return 4
	}

	transport, err := udptransport.Listen(*listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "indra start: listen: %v\n", err)
		return 4
	}
	defer transport.Close()

	if *stunServer != "" {
		if ext, err := transport.ExternalAddr(*stunServer); err != nil {
			fmt.Fprintf(os.Stderr, "indra start: stun lookup failed: %v\n", err)
		} else {
			fmt.Printf("external address: %s\n", ext)
		}
	}

	storage, err := memstore.Open(cfg.ResolvePath("store"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "indra start: open storage: %v\n", err)
		return 4
	}
	defer storage.Close()

	n, err := node.New(&cfg, node.Deps{
		Crypto:    pqcprovider.New(pqcprovider.NullPQSigner{}),
		Transport: transport,
		Storage:   storage,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "indra start: build node: %v\n", err)
		return 4
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "indra start: start node: %v\n", err)
		return 4
	}

	ctl, err := node.ListenControl(n, cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "indra start: control socket: %v\n", err)
		_ = n.Stop()
		return 4
	}
	go ctl.Serve()

	fmt.Printf("indra node %s listening on %s (datadir %s)\n", n.Self(), transport.LocalAddr(), cfg.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	_ = ctl.Close()
	if err := n.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "indra start: stop node: %v\n", err)
		return 4
	}
	return 0
}

// runControlCommand parses --data-dir plus wantArgs positional
// arguments, sends verb joined with those arguments as a single control
// request, and prints the reply.
func runControlCommand(args []string, wantArgs int, verb string) int {
	fs := newCustomFlagSet("indra " + strings.ToLower(verb))
	dataDir := fs.String("data-dir", "", "data directory (required)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "indra: %v\n", err)
		return 2
	}
	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "indra: --data-dir is required")
		return 2
	}
	positional := fs.Args()
	if len(positional) != wantArgs {
		fmt.Fprintf(os.Stderr, "indra %s: expected %d argument(s), got %d\n", strings.ToLower(verb), wantArgs, len(positional))
		return 2
	}

	request := verb
	for _, a := range positional {
		request += " " + a
	}
	return dialAndPrint(*dataDir, request)
}

// runSend parses --data-dir plus <channel> <utf8-bytes>, base64-encodes
// the payload for safe transport over the line-oriented control
// protocol, and sends it.
func runSend(args []string) int {
	fs := newCustomFlagSet("indra send")
	dataDir := fs.String("data-dir", "", "data directory (required)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "indra: %v\n", err)
		return 2
	}
	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "indra: --data-dir is required")
		return 2
	}
	positional := fs.Args()
	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "indra send: expected <channel> <utf8-bytes>")
		return 2
	}

	channel, payload := positional[0], positional[1]
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	return dialAndPrint(*dataDir, "SEND "+channel+" "+encoded)
}

// dialAndPrint sends request to the running node's control socket and
// translates its reply into the process's stdout/exit code.
func dialAndPrint(dataDir, request string) int {
	reply, err := node.DialControl(dataDir, request)
	if err != nil {
		fmt.Fprintf(os.Stderr, "indra: %v\n", err)
		return 4
	}
	return printControlReply(reply)
}

// printControlReply renders a raw "OK ..." or "ERR <kind> <msg>" control
// reply to stdout/stderr and maps it to a process exit code (§6: 0 on
// success, 2 on bad invocation, 3 when the operation was refused or the
// target was not found, 4 for everything else transient or fatal).
func printControlReply(reply string) int {
	if strings.HasPrefix(reply, "OK") {
		fmt.Println(strings.TrimSpace(strings.TrimPrefix(reply, "OK")))
		return 0
	}

	fields := strings.SplitN(reply, " ", 3)
	if len(fields) < 2 || fields[0] != "ERR" {
		fmt.Fprintf(os.Stderr, "indra: malformed control reply: %s\n", reply)
		return 4
	}
	kind := fields[1]
	msg := ""
	if len(fields) == 3 {
		msg = fields[2]
	}
	fmt.Fprintf(os.Stderr, "indra: %s: %s\n", kind, msg)

	switch kind {
	case "denied", "not_found":
		return 3
	default:
		return 4
	}
}
