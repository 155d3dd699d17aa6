// Package server implements the reference side of the protocol: it
// answers time requests with the server clock reading and tracks the
// clients it has seen.

package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.uber.org/zap"

	"example.com/clockkit/base/metrics"

	"example.com/clockkit/core/timebase"

	"example.com/clockkit/net/ckp"
)

const serverNumGoroutine = 4

type serverMetrics struct {
	pktsReceived prometheus.Counter
	reqsAccepted prometheus.Counter
	reqsServed   prometheus.Counter
	acksReceived prometheus.Counter
	clients      prometheus.Gauge
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{
		pktsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServerPktsReceivedN,
			Help: metrics.ServerPktsReceivedH,
		}),
		reqsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServerReqsAcceptedN,
			Help: metrics.ServerReqsAcceptedH,
		}),
		reqsServed: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServerReqsServedN,
			Help: metrics.ServerReqsServedH,
		}),
		acksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServerAcksReceivedN,
			Help: metrics.ServerAcksReceivedH,
		}),
		clients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.ServerClientsN,
			Help: metrics.ServerClientsH,
		}),
	}
}

var refServerMetrics atomic.Pointer[serverMetrics]

func init() {
	refServerMetrics.Store(newServerMetrics())
}

// Server answers time requests with readings of the local clockkit
// clock. Clients are identified by their source address.
type Server struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[string]struct{}
	killed  map[string]struct{}

	localAddr *net.UDPAddr
}

func NewServer(log *zap.Logger) *Server {
	return &Server{
		log:     log,
		clients: make(map[string]struct{}),
		killed:  make(map[string]struct{}),
	}
}

// KillClient marks the client with the given host address. Its next
// request is answered with a kill packet instead of a time reading.
func (s *Server) KillClient(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed[host] = struct{}{}
}

func (s *Server) addClient(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[host]; !ok {
		s.clients[host] = struct{}{}
		refServerMetrics.Load().clients.Set(float64(len(s.clients)))
	}
}

func (s *Server) removeClient(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.killed, host)
	if _, ok := s.clients[host]; ok {
		delete(s.clients, host)
		refServerMetrics.Load().clients.Set(float64(len(s.clients)))
	}
}

func (s *Server) isKilled(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.killed[host]
	return ok
}

func (s *Server) serve(ctx context.Context, conn *net.UDPConn) {
	defer conn.Close()
	mtrcs := refServerMetrics.Load()

	buf := make([]byte, ckp.PacketLen)
	for {
		buf = buf[:cap(buf)]
		n, srcAddr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("failed to read packet", zap.Error(err))
			continue
		}
		buf = buf[:n]
		mtrcs.pktsReceived.Inc()

		var req ckp.Packet
		err = ckp.DecodePacket(&req, buf)
		if err != nil {
			s.log.Info("failed to decode packet payload", zap.Error(err))
			continue
		}
		err = ckp.ValidateRequest(&req)
		if err != nil {
			s.log.Info("failed to validate packet payload", zap.Error(err))
			continue
		}

		clientID := srcAddr.Addr().String()
		mtrcs.reqsAccepted.Inc()
		s.log.Debug("received packet",
			zap.String("from", clientID),
			zap.Object("data", ckp.PacketMarshaler{Pkt: &req}),
		)

		if req.Type == ckp.TypeAcknowledge {
			mtrcs.acksReceived.Inc()
			s.addClient(clientID)
			continue
		}

		resp := req
		if s.isKilled(clientID) {
			resp.Type = ckp.TypeKillClient
			s.removeClient(clientID)
			s.log.Info("killing client", zap.String("client", clientID))
		} else {
			resp.Type = ckp.TypeReply
			resp.ServerReplyTime = ckp.UsecFromTime(timebase.Now())
			s.addClient(clientID)
		}

		ckp.EncodePacket(&buf, &resp)
		n, err = conn.WriteToUDPAddrPort(buf, srcAddr)
		if err != nil || n != len(buf) {
			s.log.Error("failed to write packet", zap.Error(err))
			continue
		}
		mtrcs.reqsServed.Inc()
	}
}

// Start binds the server to address and serves requests until ctx is
// canceled. With a fixed port the socket is shared across multiple
// goroutines; an ephemeral port cannot be shared, so it gets a single
// listener.
func (s *Server) Start(ctx context.Context, address string) error {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return err
	}
	s.log.Info("server listening", zap.Stringer("local host", laddr))

	if serverNumGoroutine == 1 || laddr.Port == 0 {
		conn, err := net.ListenUDP("udp", laddr)
		if err != nil {
			return err
		}
		s.localAddr = conn.LocalAddr().(*net.UDPAddr)
		context.AfterFunc(ctx, func() { _ = conn.Close() })
		go s.serve(ctx, conn)
	} else {
		for i := 0; i < serverNumGoroutine; i++ {
			conn, err := reuseport.ListenPacket("udp", laddr.String())
			if err != nil {
				return err
			}
			c := conn.(*net.UDPConn)
			s.localAddr = c.LocalAddr().(*net.UDPAddr)
			context.AfterFunc(ctx, func() { _ = c.Close() })
			go s.serve(ctx, c)
		}
	}
	return nil
}

// LocalAddr returns the bound address; valid after Start returns.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.localAddr
}
