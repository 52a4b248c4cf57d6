package overlay

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/pkg/identity"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	LC       fx.Lifecycle
	Registry *Registry
	Keypair  *identity.Keypair
	Config   *config.Config `optional:"true"`

	// Options 以 group:"overlay_options" 提供的构造选项
	Options []Option `group:"overlay_options"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Session *Session
	Handle  Handle
}

// ProvideSession 在注册表中创建 Session，停止时释放
//
// 未提供配置时使用 config.NewConfig()。
func ProvideSession(input ModuleInput) (ModuleOutput, error) {
	cfg := input.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	h, err := input.Registry.Create(context.Background(), input.Keypair, cfg, input.Options...)
	if err != nil {
		return ModuleOutput{}, err
	}
	s, err := input.Registry.Get(h)
	if err != nil {
		return ModuleOutput{}, err
	}

	input.LC.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return input.Registry.Dispose(h)
		},
	})
	return ModuleOutput{Session: s, Handle: h}, nil
}

// Module 返回 Fx 模块
//
// 调用方需要提供 *identity.Keypair，可选提供 *config.Config。
func Module() fx.Option {
	return fx.Module("overlay",
		fx.Provide(NewRegistry),
		fx.Provide(ProvideSession),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)
}
