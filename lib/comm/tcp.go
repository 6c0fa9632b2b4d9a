package comm

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/logging"
)

const (
	tcpInbox     = 256
	helloSize    = 8
	dialInterval = 50 * time.Millisecond
)

// TCPOptions controls the tcp backend.
type TCPOptions struct {
	// Timeout bounds every blocking receive. Zero waits forever.
	Timeout time.Duration
	// CompressThreshold is the smallest payload that gets zstd compressed.
	// Zero or negative turns compression off.
	CompressThreshold int
	Log               *zap.Logger
}

// TCPComm is a Communicator connecting processes over a full mesh of TCP
// connections. Each rank listens on its own address, accepts connections
// from higher ranks and dials lower ranks.
type TCPComm struct {
	rank, size int
	opts       TCPOptions
	log        *zap.Logger

	conns   []net.Conn
	writeMu []sync.Mutex
	// inbox[t][r] holds messages with tag t from rank r.
	inbox [numTags][]chan []byte

	peerDone []chan struct{}
	peerErr  []error
	peerOnce []sync.Once

	done   chan struct{}
	closed int32
	wg     sync.WaitGroup
}

var _ Communicator = &TCPComm{}

// DialTCP listens on addrs[rank] and connects to every other rank.
func DialTCP(
	ctx context.Context, rank int, addrs []string, opts TCPOptions,
) (*TCPComm, error) {
	if err := checkRank(rank, len(addrs)); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, ddgerr.Wrapf(ddgerr.Configuration, err,
			"listening on %s", addrs[rank])
	}
	return ConnectTCP(ctx, rank, ln, addrs, opts)
}

// ConnectTCP builds the mesh using an existing listener for this rank.
// ConnectTCP closes ln once every higher rank has connected.
func ConnectTCP(
	ctx context.Context, rank int, ln net.Listener, addrs []string,
	opts TCPOptions,
) (*TCPComm, error) {
	size := len(addrs)
	if err := checkRank(rank, size); err != nil {
		ln.Close()
		return nil, err
	}

	c := &TCPComm{
		rank: rank, size: size, opts: opts,
		log:      logging.OrNop(opts.Log),
		conns:    make([]net.Conn, size),
		writeMu:  make([]sync.Mutex, size),
		peerDone: make([]chan struct{}, size),
		peerErr:  make([]error, size),
		peerOnce: make([]sync.Once, size),
		done:     make(chan struct{}),
	}
	for t := range c.inbox {
		c.inbox[t] = make([]chan []byte, size)
		for r := range c.inbox[t] {
			c.inbox[t][r] = make(chan []byte, tcpInbox)
		}
	}
	for r := range c.peerDone {
		c.peerDone[r] = make(chan struct{})
	}

	if err := c.connect(ctx, ln, addrs); err != nil {
		c.closeConns()
		return nil, err
	}

	for r, conn := range c.conns {
		if conn == nil {
			continue
		}
		c.wg.Add(1)
		go c.readLoop(r, conn)
	}
	c.log.Debug("tcp mesh connected", zap.Int("ranks", size))
	return c, nil
}

func (c *TCPComm) connect(
	ctx context.Context, ln net.Listener, addrs []string,
) error {
	accepted := make(chan error, 1)
	go func() { accepted <- c.acceptHigher(ln) }()

	// Unblock Accept if the dial side gives up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	for r := 0; r < c.rank; r++ {
		conn, err := dialRetry(ctx, addrs[r])
		if err != nil {
			ln.Close()
			<-accepted
			return ddgerr.Wrapf(ddgerr.Transport, err,
				"rank %d dialing rank %d at %s", c.rank, r, addrs[r])
		}
		if err := writeHello(conn, c.rank, c.size); err != nil {
			conn.Close()
			ln.Close()
			<-accepted
			return err
		}
		c.conns[r] = conn
	}

	return <-accepted
}

func (c *TCPComm) acceptHigher(ln net.Listener) error {
	defer ln.Close()
	for n := c.size - 1 - c.rank; n > 0; n-- {
		conn, err := ln.Accept()
		if err != nil {
			return ddgerr.Wrapf(ddgerr.Transport, err,
				"rank %d accepting connections", c.rank)
		}
		peer, size, err := readHello(conn)
		if err != nil {
			conn.Close()
			return err
		}
		if size != c.size || peer <= c.rank || peer >= c.size ||
			c.conns[peer] != nil {
			conn.Close()
			return ddgerr.TransportErrorf("Rank %d got a malformed hello "+
				"claiming rank %d of %d.", c.rank, peer, size)
		}
		c.conns[peer] = conn
	}
	return nil
}

func dialRetry(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{}
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialInterval):
		}
	}
}

func writeHello(conn net.Conn, rank, size int) error {
	var b [helloSize]byte
	binary.LittleEndian.PutUint32(b[0:], uint32(rank))
	binary.LittleEndian.PutUint32(b[4:], uint32(size))
	if _, err := conn.Write(b[:]); err != nil {
		return ddgerr.Wrap(ddgerr.Transport, err, "writing hello")
	}
	return nil
}

func readHello(conn net.Conn) (rank, size int, err error) {
	var b [helloSize]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return 0, 0, ddgerr.Wrap(ddgerr.Transport, err, "reading hello")
	}
	return int(binary.LittleEndian.Uint32(b[0:])),
		int(binary.LittleEndian.Uint32(b[4:])), nil
}

// readLoop moves frames from one peer into the inbox until the connection
// fails or the communicator closes.
func (c *TCPComm) readLoop(peer int, conn net.Conn) {
	defer c.wg.Done()
	for {
		f, err := readFrame(conn)
		if err != nil {
			c.failPeer(peer, err)
			return
		}
		select {
		case c.inbox[f.tag][peer] <- f.payload:
		case <-c.done:
			return
		}
	}
}

func (c *TCPComm) failPeer(peer int, err error) {
	c.peerOnce[peer].Do(func() {
		c.peerErr[peer] = err
		close(c.peerDone[peer])
	})
}

func (c *TCPComm) Rank() int { return c.rank }
func (c *TCPComm) Size() int { return c.size }

func (c *TCPComm) check(rank int) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ddgerr.TransportErrorf("Rank %d used after Close.", c.rank)
	}
	return checkRank(rank, c.size)
}

func (c *TCPComm) send(
	ctx context.Context, rank int, t tag, payload []byte,
) error {
	if err := c.check(rank); err != nil {
		return err
	}

	if rank == c.rank {
		buf := append([]byte{}, payload...)
		select {
		case c.inbox[t][rank] <- buf:
			return nil
		case <-ctx.Done():
			return ddgerr.Wrap(ddgerr.Transport, ctx.Err(), "sending to self")
		}
	}

	conn := c.conns[rank]
	c.writeMu[rank].Lock()
	defer c.writeMu[rank].Unlock()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(dl)
	} else if c.opts.Timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.opts.Timeout))
	} else {
		conn.SetWriteDeadline(time.Time{})
	}

	err := writeFrame(conn, t, payload, c.opts.CompressThreshold)
	if err != nil {
		return ddgerr.Wrapf(ddgerr.Transport, err,
			"rank %d sending to rank %d", c.rank, rank)
	}
	return nil
}

func (c *TCPComm) recv(ctx context.Context, rank int, t tag) ([]byte, error) {
	if err := c.check(rank); err != nil {
		return nil, err
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	ch := c.inbox[t][rank]
	select {
	case buf := <-ch:
		return buf, nil
	default:
	}

	select {
	case buf := <-ch:
		return buf, nil
	case <-c.peerDone[rank]:
		// Frames read before the failure are already queued.
		select {
		case buf := <-ch:
			return buf, nil
		default:
		}
		return nil, ddgerr.Wrapf(ddgerr.Transport, c.peerErr[rank],
			"rank %d lost rank %d", c.rank, rank)
	case <-ctx.Done():
		return nil, ddgerr.Wrapf(ddgerr.Transport, ctx.Err(),
			"rank %d receiving from rank %d", c.rank, rank)
	case <-c.done:
		return nil, ddgerr.TransportErrorf("Rank %d closed while "+
			"receiving from rank %d.", c.rank, rank)
	}
}

func (c *TCPComm) Send(ctx context.Context, rank int, payload []byte) error {
	return c.send(ctx, rank, tagUser, payload)
}

func (c *TCPComm) Receive(ctx context.Context, rank int) ([]byte, error) {
	return c.recv(ctx, rank, tagUser)
}

func (c *TCPComm) AllGather(
	ctx context.Context, payload []byte,
) ([][]byte, error) {
	if err := c.check(c.rank); err != nil {
		return nil, err
	}
	return allGather(ctx, c, payload)
}

func (c *TCPComm) AllReduce(
	ctx context.Context, x []float64, op Op,
) ([]float64, error) {
	if err := c.check(c.rank); err != nil {
		return nil, err
	}
	return allReduce(ctx, c, x, op)
}

func (c *TCPComm) Broadcast(
	ctx context.Context, payload []byte, root int,
) ([]byte, error) {
	if err := c.check(c.rank); err != nil {
		return nil, err
	}
	return broadcast(ctx, c, payload, root)
}

// Close shuts down every connection. It is safe to call more than once.
func (c *TCPComm) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	close(c.done)
	c.closeConns()
	c.wg.Wait()
	return nil
}

func (c *TCPComm) closeConns() {
	for _, conn := range c.conns {
		if conn != nil {
			conn.Close()
		}
	}
}
