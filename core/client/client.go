package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.uber.org/zap"

	"example.com/clockkit/base/metrics"
	"example.com/clockkit/base/timebase"

	"example.com/clockkit/core/measurements"

	"example.com/clockkit/net/ckp"
	"example.com/clockkit/net/udp"
)

const defaultTimeout = 1000 * time.Microsecond

// Transport is the channel over which probe packets are exchanged.
// *udp.Conn satisfies it; tests substitute in-memory implementations.
type Transport interface {
	Send(b []byte) error
	Receive(b []byte, timeout time.Duration) (int, error)
	Close() error
}

var (
	ErrTimeout  = errors.New("probe timed out")
	ErrProtocol = errors.New("unexpected response structure")
	ErrKilled   = errors.New("probe rejected: killed by server")
)

type clockClientMetrics struct {
	probesSent    prometheus.Counter
	respsAccepted prometheus.Counter
	timeouts      prometheus.Counter
	transportErrs prometheus.Counter
	protocolErrs  prometheus.Counter
	acksSent      prometheus.Counter
}

func newClockClientMetrics() *clockClientMetrics {
	return &clockClientMetrics{
		probesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientProbesSentN,
			Help: metrics.ClientProbesSentH,
		}),
		respsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientRespsAcceptedN,
			Help: metrics.ClientRespsAcceptedH,
		}),
		timeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientTimeoutsN,
			Help: metrics.ClientTimeoutsH,
		}),
		transportErrs: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientTransportErrsN,
			Help: metrics.ClientTransportErrsH,
		}),
		protocolErrs: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientProtocolErrsN,
			Help: metrics.ClientProtocolErrsH,
		}),
		acksSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientAcksSentN,
			Help: metrics.ClientAcksSentH,
		}),
	}
}

var clientMetrics atomic.Pointer[clockClientMetrics]

func init() {
	clientMetrics.Store(newClockClientMetrics())
}

// ClockClient issues probe exchanges against a reference time server
// and yields one raw sample per successful probe. It holds no retry
// policy; a failed probe is simply reported to the caller.
type ClockClient struct {
	log         *zap.Logger
	lclk        timebase.LocalClock
	conn        Transport
	timeout     atomic.Int64
	acknowledge atomic.Bool
	sequence    uint8

	// Histo, if set, records the round-trip time of accepted probes
	// in microseconds.
	Histo *hdrhistogram.Histogram
}

func NewClockClient(log *zap.Logger, lclk timebase.LocalClock, conn Transport) *ClockClient {
	if lclk == nil {
		panic("local clock must not be nil")
	}
	if conn == nil {
		panic("transport must not be nil")
	}
	c := &ClockClient{log: log, lclk: lclk, conn: conn}
	c.timeout.Store(int64(defaultTimeout))
	return c
}

// SetTimeout bounds how long a single probe may block awaiting the
// server's reply.
func (c *ClockClient) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		panic("invalid timeout value")
	}
	c.timeout.Store(int64(timeout))
}

func (c *ClockClient) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// SetAcknowledge controls whether accepted replies are acknowledged to
// the server. This affects only the exchange, not the sample contract.
func (c *ClockClient) SetAcknowledge(acknowledge bool) {
	c.acknowledge.Store(acknowledge)
}

func (c *ClockClient) Acknowledge() bool {
	return c.acknowledge.Load()
}

// Close releases the transport. An in-flight probe is aborted and
// reports a transport error.
func (c *ClockClient) Close() error {
	return c.conn.Close()
}

// Probe performs one request/reply exchange and returns the resulting
// raw sample. It fails with ErrTimeout if no reply arrives within the
// configured timeout, ErrProtocol if the reply is unusable, ErrKilled
// if the server ordered this client to stop, and the underlying error
// on transport failure.
func (c *ClockClient) Probe(ctx context.Context) (measurements.Sample, error) {
	mtrcs := clientMetrics.Load()

	if err := ctx.Err(); err != nil {
		return measurements.Sample{}, err
	}

	c.sequence++
	if c.sequence == 0 {
		c.sequence++
	}

	buf := make([]byte, ckp.PacketLen)

	cSendTime := c.lclk.Now()
	req := ckp.Packet{
		Type:              ckp.TypeRequest,
		Sequence:          c.sequence,
		ClientRequestTime: ckp.UsecFromTime(cSendTime),
	}
	ckp.EncodePacket(&buf, &req)
	err := c.conn.Send(buf)
	if err != nil {
		mtrcs.transportErrs.Inc()
		return measurements.Sample{}, err
	}
	mtrcs.probesSent.Inc()

	timeout := c.Timeout()
	deadline := cSendTime.Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok {
		if d := time.Until(ctxDeadline); d < timeout {
			timeout = d
			deadline = cSendTime.Add(timeout)
		}
	}

	for {
		remaining := deadline.Sub(c.lclk.Now())
		if remaining <= 0 {
			mtrcs.timeouts.Inc()
			return measurements.Sample{}, ErrTimeout
		}
		buf = buf[:cap(buf)]
		n, err := c.conn.Receive(buf, remaining)
		cRecvTime := c.lclk.Now()
		if err != nil {
			if udp.IsTimeout(err) {
				mtrcs.timeouts.Inc()
				return measurements.Sample{}, ErrTimeout
			}
			mtrcs.transportErrs.Inc()
			return measurements.Sample{}, err
		}
		buf = buf[:n]

		var resp ckp.Packet
		err = ckp.DecodePacket(&resp, buf)
		if err != nil {
			c.log.Info("failed to decode packet payload", zap.Error(err))
			mtrcs.protocolErrs.Inc()
			continue
		}
		if resp.Type == ckp.TypeKillClient {
			return measurements.Sample{}, ErrKilled
		}
		err = ckp.ValidateReply(&resp, c.sequence, req.ClientRequestTime)
		if err != nil {
			// Stale reply to an earlier probe; keep waiting.
			c.log.Debug("discarding unexpected packet",
				zap.Object("data", ckp.PacketMarshaler{Pkt: &resp}),
			)
			mtrcs.protocolErrs.Inc()
			continue
		}

		sample := measurements.Sample{
			SendTime:    cSendTime,
			ReceiveTime: cRecvTime,
			RemoteTime:  ckp.TimeFromUsec(resp.ServerReplyTime),
		}
		if !sample.Valid() {
			mtrcs.protocolErrs.Inc()
			return measurements.Sample{}, ErrProtocol
		}

		if c.Acknowledge() {
			ack := resp
			ack.Type = ckp.TypeAcknowledge
			ack.ClientReceiveTime = ckp.UsecFromTime(cRecvTime)
			ckp.EncodePacket(&buf, &ack)
			err = c.conn.Send(buf)
			if err != nil {
				c.log.Info("failed to send acknowledgment", zap.Error(err))
			} else {
				mtrcs.acksSent.Inc()
			}
		}

		mtrcs.respsAccepted.Inc()
		if c.Histo != nil {
			_ = c.Histo.RecordValue(sample.RTT().Microseconds())
		}
		c.log.Debug("accepted response",
			zap.Duration("rtt", sample.RTT()),
			zap.Duration("implied offset", sample.Offset()),
		)

		return sample, nil
	}
}
