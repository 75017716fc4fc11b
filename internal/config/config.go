// Package config defines the process-level CLI/env surface every server
// binary exposes (§6 "CLI / process surface") and the tuning constants
// referenced throughout the spec (H_evict, T_warn, T_critical, margin M,
// tick dt caps). Flags are parsed with pflag and bound into viper so the
// same values can also come from environment variables; no config file is
// read. Tuning is not read from flags or env: DefaultTuning returns fixed
// values.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Process holds one server process's CLI/env-derived identity and network
// configuration (§6).
type Process struct {
	Transport  string
	RPCPort    int
	HTTPPort   int
	InstanceID string
	ClusterID  string
	ServiceID  string
	PolicyFile string
	DirDSN     string
	LogLevel   string
}

// Tuning holds the spec's named constants, overridable for tests.
type Tuning struct {
	HEvict        time.Duration
	TWarn         time.Duration
	TCritical     time.Duration
	TransferMargin float32
	MaxTickDT     time.Duration
	ZoneSide      float32
}

// DefaultTuning matches the spec's defaults exactly (§3, §4.4, §4.5, §8).
func DefaultTuning() Tuning {
	return Tuning{
		HEvict:         15 * time.Second,
		TWarn:          10 * time.Second,
		TCritical:      30 * time.Second,
		TransferMargin: 8,
		MaxTickDT:      50 * time.Millisecond,
		ZoneSide:       500,
	}
}

// Load parses flags registered on fs (typically pflag.CommandLine from a
// cobra command's Flags()) plus environment variables into a Process.
// Callers register flags with RegisterFlags before calling Load.
func Load(fs *pflag.FlagSet) (Process, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Process{}, fmt.Errorf("config: bind flags: %w", err)
	}
	_ = v.BindEnv("instance-id", "INSTANCE_ID")
	_ = v.BindEnv("cluster-id", "CLUSTER_ID")
	_ = v.BindEnv("service-id", "SERVICE_ID")

	return Process{
		Transport:  v.GetString("transport"),
		RPCPort:    v.GetInt("rpc-port"),
		HTTPPort:   v.GetInt("http-port"),
		InstanceID: v.GetString("instance-id"),
		ClusterID:  v.GetString("cluster-id"),
		ServiceID:  v.GetString("service-id"),
		PolicyFile: v.GetString("policy-file"),
		DirDSN:     v.GetString("dir-dsn"),
		LogLevel:   v.GetString("log-level"),
	}, nil
}

// RegisterFlags adds the standard server flags to fs, so every cmd/*
// binary exposes the same minimal surface (§6).
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("transport", "udp", "transport implementation to use")
	fs.Int("rpc-port", 9100, "UDP port for the RPC transport")
	fs.Int("http-port", 9101, "HTTP port for health/metrics/control surface")
	fs.String("instance-id", "", "instance id; INSTANCE_ID env var is used when this flag is not set")
	fs.String("cluster-id", "", "cluster id; CLUSTER_ID env var is used when this flag is not set")
	fs.String("service-id", "", "service id; SERVICE_ID env var is used when this flag is not set")
	fs.String("policy-file", "configs/policy.yaml", "path to the method authorization policy file")
	fs.String("dir-dsn", "zonecore-directory.db", "SQLite DSN for the zone directory")
	fs.String("log-level", "info", "zap log level (debug, info, warn, error)")
}
