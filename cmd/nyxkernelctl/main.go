// Command nyxkernelctl is a debug/control CLI for the core: it talks to
// a running guardiand over its Unix-domain socket (SYS_DEBUG-style
// introspection from user space) and can drive a small in-process
// kernel scenario to sanity-check the capability/IPC wiring without a
// real syscall boundary.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nyxkernel/corekernel/guardian"
	"github.com/nyxkernel/corekernel/kernel"
	"github.com/nyxkernel/corekernel/rights"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "status":
		cmdStatus(os.Args[2:])
	case "check":
		cmdCheck(os.Args[2:])
	case "demo":
		cmdDemo(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: nyxkernelctl <status|check|demo> [flags]")
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socket := fs.String("socket", guardian.DefaultSocketPath, "guardian unix-domain socket")
	fs.Parse(args)

	c := guardian.NewClient(*socket)
	defer c.Close()

	resp, err := c.Status()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Printf("version=%s uptime=%ds requests=%d active=%d\n",
		resp.Version, resp.UptimeSecs, resp.RequestsProcessed, resp.ActiveProcesses)
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	socket := fs.String("socket", guardian.DefaultSocketPath, "guardian unix-domain socket")
	pid := fs.Uint("pid", uint(os.Getpid()), "requesting pid")
	path := fs.String("path", "", "process path")
	user := fs.String("user", "", "requesting user")
	capability := fs.String("capability", "", "capability string, e.g. filesystem:write")
	resource := fs.String("resource", "", "resource path, optional")
	fs.Parse(args)

	if *capability == "" {
		fmt.Fprintln(os.Stderr, "error: -capability is required")
		os.Exit(2)
	}

	c := guardian.NewClient(*socket)
	defer c.Close()

	req := guardian.CapabilityRequest{
		PID:         uint32(*pid),
		ProcessPath: *path,
		User:        *user,
		Capability:  *capability,
	}
	req.Resource = *resource

	decision, reason, err := c.CheckCapability(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Printf("decision=%s reason=%q\n", decision, reason)
}

// cmdDemo drives the literal S1/S2 scenarios in-process: derive/revoke
// confinement, then an IPC ping-pong across two simulated processes.
func cmdDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	fs.Parse(args)

	d := kernel.NewDispatcher()
	procA := kernel.NewProcess(0)
	procB := kernel.NewProcess(procA.ID)

	h, err := d.CreateEndpoint(procA, 0, rights.SEND|rights.RECEIVE|rights.CALL|rights.REPLY|rights.GRANT|rights.TRANSFER|rights.DUPLICATE|rights.REVOKE)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create endpoint:", err)
		os.Exit(1)
	}

	c1, err := d.CapDerive(procA, h, rights.SEND|rights.RECEIVE|rights.GRANT|rights.DUPLICATE|rights.REVOKE)
	if err != nil {
		fmt.Fprintln(os.Stderr, "derive c1:", err)
		os.Exit(1)
	}
	c2, err := d.CapDerive(procA, c1, rights.SEND|rights.WAIT)
	if err != nil {
		fmt.Fprintln(os.Stderr, "derive c2:", err)
		os.Exit(1)
	}
	if _, narrowed, _ := procA.CSpace.Identify(c2); narrowed != rights.SEND {
		fmt.Fprintf(os.Stderr, "S1 violated: c2 rights = %v, want SEND only\n", narrowed)
		os.Exit(1)
	}

	if err := d.CapRevoke(procA, c1); err != nil {
		fmt.Fprintln(os.Stderr, "revoke c1:", err)
		os.Exit(1)
	}
	if err := d.Send(procA, c2, []byte("should fail"), nil, false, time.Time{}); err == nil {
		fmt.Fprintln(os.Stderr, "S1 violated: send via revoked descendant succeeded")
		os.Exit(1)
	}
	if err := d.Send(procA, h, []byte("still alive"), nil, false, time.Time{}); err != nil {
		fmt.Fprintln(os.Stderr, "S1 violated: send via live root failed:", err)
		os.Exit(1)
	}
	if _, err := d.Receive(procA, h, false, time.Time{}); err != nil {
		fmt.Fprintln(os.Stderr, "drain queued message:", err)
		os.Exit(1)
	}
	fmt.Println("S1 derive/revoke confinement: ok")

	grantedB, err := d.CapGrant(procA, h, procB, rights.SEND|rights.RECEIVE|rights.CALL|rights.REPLY)
	if err != nil {
		fmt.Fprintln(os.Stderr, "grant to B:", err)
		os.Exit(1)
	}

	thrB := d.ThreadCreate(procB)
	done := make(chan string, 1)
	go func() {
		msg, err := d.RecvRequest(procA, h, true, time.Now().Add(2*time.Second))
		if err != nil {
			done <- "error: " + err.Error()
			return
		}
		if err := d.SendResponse(msg.Tag, []byte("pong"), nil); err != nil {
			done <- "error: " + err.Error()
			return
		}
		done <- string(msg.Payload)
	}()

	reply, err := d.Call(procB, thrB, grantedB, []byte("ping"), time.Now().Add(2*time.Second))
	if err != nil {
		fmt.Fprintln(os.Stderr, "call:", err)
		os.Exit(1)
	}

	got := <-done
	if got != "ping" {
		fmt.Fprintf(os.Stderr, "S2 violated: server saw payload %q, want \"ping\"\n", got)
		os.Exit(1)
	}
	if string(reply.Payload) != "pong" {
		fmt.Fprintf(os.Stderr, "S2 violated: client saw reply %q, want \"pong\"\n", reply.Payload)
		os.Exit(1)
	}
	fmt.Println("S2 IPC ping-pong: ok")
}
