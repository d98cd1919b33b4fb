/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package config loads the cache server's configuration from file, env, and
// flags via spf13/viper, matching every key spec.md §6 names: server.*,
// seg.*, tls.*, admin.*, worker.threads, time.time_type.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	libcert "github.com/sabouaram/segcached/certificates"
	libdur "github.com/sabouaram/segcached/duration"
	liberr "github.com/sabouaram/segcached/errors"
)

const (
	// CodeLoadFailed is returned when viper cannot read or unmarshal the config.
	CodeLoadFailed liberr.CodeError = 6000 + iota
	CodeValidateFailed
)

// TimeType selects how the admin surface reports cache timestamps.
type TimeType string

const (
	TimeTypeUnix      TimeType = "unix"
	TimeTypeMonotonic TimeType = "monotonic"
)

// Server holds server.* keys.
type Server struct {
	Address string        `mapstructure:"address"`
	NEvent  int           `mapstructure:"nevent"`
	Timeout libdur.Duration `mapstructure:"timeout"`
}

// Seg holds seg.* keys.
type Seg struct {
	SegmentSize int           `mapstructure:"segment_size"`
	HeapSize    int64         `mapstructure:"heap_size"`
	HashPower   uint          `mapstructure:"hash_power"`
	BucketWidth libdur.Duration `mapstructure:"bucket_width"`
}

// TLS holds tls.* keys; Enabled false means plaintext.
type TLS struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	RootCAFile   string `mapstructure:"root_ca_file"`
	RequireClientCert bool `mapstructure:"require_client_cert"`
	ServerName   string `mapstructure:"server_name"`
}

// Admin holds admin.* keys for the health/metrics/flush_all HTTP surface.
type Admin struct {
	Address string `mapstructure:"address"`
}

// Worker holds worker.* keys.
type Worker struct {
	Threads int `mapstructure:"threads"`
}

// Time holds time.* keys.
type Time struct {
	TimeType TimeType `mapstructure:"time_type"`
}

// Config is the fully loaded, validated configuration tree.
type Config struct {
	Server Server `mapstructure:"server"`
	Seg    Seg    `mapstructure:"seg"`
	TLS    TLS    `mapstructure:"tls"`
	Admin  Admin  `mapstructure:"admin"`
	Worker Worker `mapstructure:"worker"`
	Time   Time   `mapstructure:"time"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0:11211")
	v.SetDefault("server.nevent", 1024)
	v.SetDefault("server.timeout", time.Second.String())

	v.SetDefault("seg.segment_size", 1<<20)
	v.SetDefault("seg.heap_size", int64(1<<20)*64)
	v.SetDefault("seg.hash_power", 16)
	v.SetDefault("seg.bucket_width", time.Second.String())

	v.SetDefault("tls.enabled", false)

	v.SetDefault("admin.address", "127.0.0.1:9090")

	v.SetDefault("worker.threads", 4)

	v.SetDefault("time.time_type", string(TimeTypeUnix))
}

// Load reads configuration from (in ascending priority) defaults, the file
// at path (if non-empty), environment variables prefixed SEGCACHED_, and
// flags, already bound to the supplied FlagSet by BindFlags.
func Load(path string, flags *pflag.FlagSet) (*Config, liberr.Error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("segcached")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, liberr.New(CodeLoadFailed.Uint16(), "bind flags: "+err.Error())
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, liberr.New(CodeLoadFailed.Uint16(), "read config: "+err.Error())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, liberr.New(CodeLoadFailed.Uint16(), "unmarshal config: "+err.Error())
	}

	if lerr := cfg.Validate(); lerr != nil {
		return nil, lerr
	}

	return &cfg, nil
}

// BindFlags registers the command-line flags Load will later bind against:
// server.address, server.nevent, admin.address, worker.threads and
// tls.enabled. The other viper keys have no flag.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("server.address", "", "listen address (host:port)")
	flags.Int("server.nevent", 0, "max epoll events per wait")
	flags.String("admin.address", "", "admin HTTP listen address")
	flags.Int("worker.threads", 0, "worker thread count")
	flags.Bool("tls.enabled", false, "terminate TLS on the listener")
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() liberr.Error {
	if c.Server.Address == "" {
		return liberr.New(CodeValidateFailed.Uint16(), "server.address must not be empty")
	}
	if c.Seg.SegmentSize <= 0 {
		return liberr.New(CodeValidateFailed.Uint16(), "seg.segment_size must be positive")
	}
	if c.Seg.HeapSize <= 0 {
		return liberr.New(CodeValidateFailed.Uint16(), "seg.heap_size must be positive")
	}
	if c.Worker.Threads <= 0 {
		return liberr.New(CodeValidateFailed.Uint16(), "worker.threads must be positive")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return liberr.New(CodeValidateFailed.Uint16(), "tls.cert_file and tls.key_file are required when tls.enabled")
	}
	return nil
}

// TLSConfig builds a certificates.TLSConfig from c.TLS, or nil when TLS is disabled.
func (c *Config) TLSConfig() (libcert.TLSConfig, liberr.Error) {
	if !c.TLS.Enabled {
		return nil, nil
	}

	cc := &libcert.Config{}
	tc := cc.New()

	if err := tc.AddCertificatePairFile(c.TLS.KeyFile, c.TLS.CertFile); err != nil {
		return nil, liberr.New(CodeValidateFailed.Uint16(), "load certificate pair: "+err.Error())
	}
	if c.TLS.RootCAFile != "" {
		if err := tc.AddRootCAFile(c.TLS.RootCAFile); err != nil {
			return nil, liberr.New(CodeValidateFailed.Uint16(), "load root CA: "+err.Error())
		}
	}

	return tc, nil
}
