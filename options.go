package overlay

import (
	"errors"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// Option Session 构造选项
type Option func(*options) error

// options 内部选项结构
type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	clock      clock.Clock
}

func defaultOptions() options {
	return options{
		registerer: prometheus.DefaultRegisterer,
		clock:      clock.New(),
	}
}

func (o *options) apply(opts ...Option) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger 指定 Session 日志器
//
// 行为模块仍使用各自的子系统日志器。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		if l == nil {
			return errors.New("overlay: nil logger")
		}
		o.logger = l
		return nil
	}
}

// WithPrometheusRegisterer 指定指标注册器，默认 prometheus.DefaultRegisterer
//
// 仅在 Metrics.Enable 为 true 时生效。
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		if reg == nil {
			return errors.New("overlay: nil prometheus registerer")
		}
		o.registerer = reg
		return nil
	}
}

// WithClock 指定时钟，测试中可传入 clock.NewMock()
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		if c == nil {
			return errors.New("overlay: nil clock")
		}
		o.clock = c
		return nil
	}
}
