package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/pkg/identity"
)

// 环境变量
const (
	envPreset         = "OVERLAY_PRESET"
	envListen         = "OVERLAY_LISTEN"
	envIdentityFile   = "OVERLAY_IDENTITY_FILE"
	envMetrics        = "OVERLAY_METRICS"
	envRendezvousSrv  = "OVERLAY_RENDEZVOUS_SERVER"
	envMaxEstablished = "OVERLAY_MAX_ESTABLISHED"
)

// loadConfigFile 加载 JSON 配置文件，未出现的字段保持默认值
func loadConfigFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // 用户指定的配置文件路径
	if err != nil {
		return nil, err
	}
	return config.FromJSON(data)
}

// applyEnvOverrides 应用 OVERLAY_* 环境变量
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envListen); v != "" {
		cfg.Listen = splitAndTrim(v, ",")
	}
	if v := os.Getenv(envMetrics); v != "" {
		cfg.Metrics.Enable = parseBool(v)
	}
	if v := os.Getenv(envRendezvousSrv); v != "" {
		cfg.Rendezvous.EnableServer = parseBool(v)
	}
	if v := os.Getenv(envMaxEstablished); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Admission.MaxEstablished = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// loadIdentity 读取身份文件；文件不存在时生成 Ed25519 密钥并写入
//
// path 为空时每次启动使用新身份。
func loadIdentity(path string) (*identity.Keypair, error) {
	if path == "" {
		return identity.Generate(identity.Ed25519)
	}

	data, err := os.ReadFile(path) //nolint:gosec // 用户指定的密钥路径
	switch {
	case err == nil:
		return identity.Import(data)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	kp, err := identity.Generate(identity.Ed25519)
	if err != nil {
		return nil, err
	}
	out, err := kp.Export()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return nil, fmt.Errorf("write identity: %w", err)
	}
	log.Info("已生成新身份", "path", path, "peer", kp.PeerID())
	return kp, nil
}
