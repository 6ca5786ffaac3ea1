package middleware

import (
	"errors"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kbirk/peerchan/pkg/channel"
)

// Metrics counts requests and responses and observes how long incoming
// requests take to handle.
type Metrics struct {
	clock     clock.Clock
	outgoing  prometheus.Counter
	incoming  *prometheus.CounterVec
	responses *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics creates the collectors under namespace and registers them with
// reg.
func NewMetrics(reg prometheus.Registerer, namespace string, clk clock.Clock) (*Metrics, error) {
	if clk == nil {
		clk = clock.New()
	}

	m := &Metrics{
		clock: clk,
		outgoing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outgoing_requests_total",
			Help:      "Requests sent to the remote peer.",
		}),
		incoming: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incoming_requests_total",
			Help:      "Requests handled for the remote peer, by response code.",
		}, []string{"code"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incoming_responses_total",
			Help:      "Responses received from the remote peer, by response code.",
		}, []string{"code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_handling_seconds",
			Help:      "Time spent in the incoming request pipeline.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.outgoing, m.incoming, m.responses, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) HandleOutgoingRequest(ctx *channel.OutgoingRequestContext, next channel.Next) error {
	if err := next(); err != nil {
		return err
	}
	m.outgoing.Inc()
	return nil
}

func (m *Metrics) HandleIncomingRequest(ctx *channel.IncomingRequestContext, next channel.Next) error {
	start := m.clock.Now()
	err := next()
	m.duration.Observe(m.clock.Since(start).Seconds())

	code := channel.CodeOK
	switch {
	case err != nil && errors.Is(err, channel.ErrChannelDisposed):
		return err
	case err != nil:
		code = channel.ErrorCode(err)
	case !ctx.IsCompleted():
		code = channel.CodeMissingResponse
	}
	m.incoming.WithLabelValues(strconv.Itoa(int(code))).Inc()
	return err
}

func (m *Metrics) HandleIncomingResponse(ctx *channel.IncomingResponseContext, next channel.Next) error {
	m.responses.WithLabelValues(strconv.Itoa(int(ctx.Response.Code))).Inc()
	return next()
}
