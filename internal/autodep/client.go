package autodep

import (
	"fmt"
	"net"
	"os"
)

// Client is the shim side of the autodep protocol: what a traced job
// process links against (or is prefixed by, for untraced legacy
// recipes) to report accesses to its gather server. Constructed from the
// environment variable a Backend sets before exec (spec.md §4.2).
type Client struct {
	conn net.Conn
	env  Env
}

// Dial connects to the gather server named by the FORGE_AUTODEP
// environment variable, or returns an error if the job was launched
// without autodep configured (spec.md §4.2's "declaration channel" is
// mandatory for any rule with dynamic deps, optional otherwise).
func Dial() (*Client, error) {
	raw := os.Getenv(EnvVar)
	if raw == "" {
		return nil, fmt.Errorf("autodep: %s not set", EnvVar)
	}
	env, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("unix", env.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("autodep: dial %s: %w", env.SocketPath, err)
	}
	c := &Client{conn: conn, env: env}
	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	req := JobExecRpcReq{JobID: c.env.JobID, Pid: int32(os.Getpid())}
	payload, err := req.MarshalMsg(nil)
	if err != nil {
		return err
	}
	if err := WriteFrame(c.conn, Frame{MsgType: MsgJobExecReq, Payload: payload}); err != nil {
		return err
	}
	f, err := ReadFrame(c.conn)
	if err != nil {
		return err
	}
	var reply JobExecRpcReply
	if _, err := reply.UnmarshalMsg(f.Payload); err != nil {
		return err
	}
	if !reply.Ok {
		return fmt.Errorf("autodep: gather server rejected job: %s", reply.Message)
	}
	return nil
}

// Report sends a batch of observed accesses to the gather server. Called
// by the tracer (an LD_PRELOAD shim, ptrace supervisor, or an explicit
// call from a recipe written against this package directly) whenever it
// has accumulated enough events to be worth a flush.
func (c *Client) Report(events []AccessEvent) error {
	if len(events) == 0 {
		return nil
	}
	return WriteAccessBatch(c.conn, AccessBatch{Events: events})
}

// ResolveDep issues a synchronous live-dep-sync request, blocking until
// the engine has made() the path to at least Status level (spec.md §4.2
// "live dep sync"). Only valid when the job's Env.ReadOnly is false.
func (c *Client) ResolveDep(path string) (ok bool, err error) {
	if c.env.ReadOnly {
		return false, fmt.Errorf("autodep: job is read-only, cannot resolve deps live")
	}
	payload, err := (DepResolveReq{Path: path}).MarshalMsg(nil)
	if err != nil {
		return false, err
	}
	if err := WriteFrame(c.conn, Frame{MsgType: MsgDepResolveReq, Payload: payload}); err != nil {
		return false, err
	}
	f, err := ReadFrame(c.conn)
	if err != nil {
		return false, err
	}
	var reply DepResolveReply
	if _, err := reply.UnmarshalMsg(f.Payload); err != nil {
		return false, err
	}
	if reply.Err {
		return false, fmt.Errorf("autodep: dep %s failed to build", path)
	}
	return reply.Ok, nil
}

// Close signals MsgDone and releases the connection.
func (c *Client) Close() error {
	_ = WriteFrame(c.conn, Frame{MsgType: MsgDone})
	return c.conn.Close()
}
