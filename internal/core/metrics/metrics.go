// Package metrics 提供 Session 的 prometheus 指标
//
// 指标带 session 常量标签，同一进程内多个 Session 可以注册到同一个 Registerer：
//   - <ns>_events_total{event}            上报给应用的事件数
//   - <ns>_commands_total{command,result}  命令调用次数
//   - <ns>_connections                     当前连接数
//   - <ns>_pending_validations             等待裁决的 gossip 消息数
//   - <ns>_bandwidth_bytes{direction}      累计收发字节（libp2p 带宽计数器）
//
// 所有方法对 nil *Metrics 安全，关闭指标时传 nil 即可。
package metrics

import (
	"errors"

	lmetrics "github.com/libp2p/go-libp2p/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// 命令结果标签
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics Session 指标
type Metrics struct {
	namespace string
	labels    prometheus.Labels
	reg       prometheus.Registerer

	events      *prometheus.CounterVec
	commands    *prometheus.CounterVec
	connections prometheus.Gauge

	collectors []prometheus.Collector
}

// New 创建并注册指标
//
// session 作为常量标签区分同一进程内的多个 Session。
func New(reg prometheus.Registerer, namespace, session string) (*Metrics, error) {
	labels := prometheus.Labels{"session": session}
	m := &Metrics{
		namespace: namespace,
		labels:    labels,
		reg:       reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "events_total",
			Help:        "Application events delivered to the observer.",
			ConstLabels: labels,
		}, []string{"event"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "commands_total",
			Help:        "Session commands by outcome.",
			ConstLabels: labels,
		}, []string{"command", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connections",
			Help:        "Open connections.",
			ConstLabels: labels,
		}),
	}
	if err := m.register(m.events, m.commands, m.connections); err != nil {
		m.Unregister()
		return nil, err
	}
	return m, nil
}

func (m *Metrics) register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.reg.Register(c); err != nil {
			return err
		}
		m.collectors = append(m.collectors, c)
	}
	return nil
}

// Event 记录一次事件投递
func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

// Command 记录一次命令调用
func (m *Metrics) Command(name string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.commands.WithLabelValues(name, result).Inc()
}

// SetConnections 设置当前连接数
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// WatchPendingValidations 注册待验证消息数
func (m *Metrics) WatchPendingValidations(fn func() int) error {
	if m == nil {
		return nil
	}
	return m.register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "pending_validations",
		Help:        "Gossip messages awaiting an application verdict.",
		ConstLabels: m.labels,
	}, func() float64 { return float64(fn()) }))
}

// WatchBandwidth 注册带宽计数
func (m *Metrics) WatchBandwidth(bw lmetrics.Reporter) error {
	if m == nil || bw == nil {
		return nil
	}
	var errs error
	for _, dir := range []string{"in", "out"} {
		labels := prometheus.Labels{"direction": dir}
		for k, v := range m.labels {
			labels[k] = v
		}
		errs = multierr.Append(errs, m.register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   m.namespace,
			Name:        "bandwidth_bytes",
			Help:        "Bytes transferred by direction.",
			ConstLabels: labels,
		}, func() float64 {
			totals := bw.GetBandwidthTotals()
			if dir == "in" {
				return float64(totals.TotalIn)
			}
			return float64(totals.TotalOut)
		})))
	}
	return errs
}

// Unregister 注销全部指标
func (m *Metrics) Unregister() {
	if m == nil {
		return
	}
	for _, c := range m.collectors {
		m.reg.Unregister(c)
	}
	m.collectors = nil
}

// IsAlreadyRegistered 错误是否为重复注册
func IsAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
