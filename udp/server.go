package udp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/treemana/godoh/cache"
	"github.com/treemana/godoh/log"
)

const (
	maxPacketSize        = 65535
	defaultPurgeInterval = time.Minute
	readRetryMin         = 5 * time.Millisecond
	readRetryMax         = time.Second
)

// Forwarder sends a raw query upstream and returns the raw response.
type Forwarder interface {
	Forward(ctx context.Context, query []byte) ([]byte, error)
}

type Configure struct {
	Address       string        // listen address, host:port
	MaxInflight   int64         // max concurrent queries, unbounded when <= 0
	PurgeInterval time.Duration // expired cache entries removal period, defaultPurgeInterval when 0, disabled when < 0
}

type Server struct {
	address *net.UDPAddr
	conn    *net.UDPConn
	status  atomic.Bool // running status

	cache     *cache.Cache
	forwarder Forwarder
	inflight  *semaphore.Weighted // nil means unbounded

	reqWG  sync.WaitGroup // in flight queries
	readWG sync.WaitGroup // read loop and cache purger

	serial        atomic.Uint64
	purgeInterval time.Duration
	ctx           context.Context
	cancelFn      context.CancelFunc
	stopOnce      sync.Once
}

func New(config Configure, c *cache.Cache, f Forwarder) (*Server, error) {

	if c == nil || f == nil {
		return nil, errors.New("cache and forwarder needed")
	}

	address, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve address %q", config.Address)
	}

	s := Server{
		address:       address,
		cache:         c,
		forwarder:     f,
		purgeInterval: config.PurgeInterval,
	}

	if config.MaxInflight > 0 {
		s.inflight = semaphore.NewWeighted(config.MaxInflight)
	}

	if s.purgeInterval == 0 {
		s.purgeInterval = defaultPurgeInterval
	}

	if err = s.setConn(); err != nil {
		return nil, errors.Wrap(err, "set conn")
	}

	s.ctx, s.cancelFn = context.WithCancel(context.Background())

	return &s, nil
}

// Addr return the bound address, useful when listening on port 0
func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *Server) Start() {

	s.status.Store(true)

	s.readWG.Add(2)
	go func() {
		s.read()
		s.readWG.Done()
	}()
	go func() {
		s.cachePurger(s.ctx, s.purgeInterval)
		s.readWG.Done()
	}()

	log.Sugar.Infof("server running on %s, cache=%t ...", s.Addr(), s.cache.Enabled())
}

// Stop stop reading, abort the in flight queries and close the connection.
// It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		log.Sugar.Info("server stopping")
		s.status.Store(false)

		// unblock the pending read
		if err := s.conn.SetReadDeadline(time.Now()); err != nil {
			log.Sugar.Warnf("server set read deadline error=[%v]", err)
		}

		s.cancelFn()
		s.readWG.Wait()
		log.Sugar.Info("server read stopped")

		s.reqWG.Wait()
		log.Sugar.Infof("server all request done, serial=%d", s.serial.Load())

		if err := s.conn.Close(); err != nil {
			log.Sugar.Errorf("server udp connection close error=[%v]", err)
		}
		log.Sugar.Info("server stopped")
	})
}

func (s *Server) setConn() error {
	var err error
	if s.conn, err = net.ListenUDP("udp", s.address); err != nil {
		log.Sugar.Errorf("server udp [%s] listen error=[%v]", s.address, err)
		return err
	}

	return nil
}
