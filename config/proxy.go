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

// Backend holds backend.* keys naming the remote cache the proxy forwards to.
type Backend struct {
	Address  string          `mapstructure:"address"`
	PoolSize int             `mapstructure:"pool_size"`
	Deadline libdur.Duration `mapstructure:"deadline"`
}

// ProxyConfig is the fully loaded configuration for the segproxy binary:
// the same front-end server.* and tls.* surface as Config, plus backend.*
// naming the remote cache to forward to (spec.md §9).
type ProxyConfig struct {
	Server  Server  `mapstructure:"server"`
	TLS     TLS     `mapstructure:"tls"`
	Admin   Admin   `mapstructure:"admin"`
	Worker  Worker  `mapstructure:"worker"`
	Backend Backend `mapstructure:"backend"`
}

func proxyDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0:11212")
	v.SetDefault("server.nevent", 1024)
	v.SetDefault("server.timeout", time.Second.String())

	v.SetDefault("tls.enabled", false)

	v.SetDefault("admin.address", "127.0.0.1:9091")

	v.SetDefault("worker.threads", 4)

	v.SetDefault("backend.pool_size", 8)
	v.SetDefault("backend.deadline", (200 * time.Millisecond).String())
}

// LoadProxy mirrors Load but for the proxy deployment mode's config tree.
func LoadProxy(path string, flags *pflag.FlagSet) (*ProxyConfig, liberr.Error) {
	v := viper.New()
	proxyDefaults(v)

	v.SetEnvPrefix("segproxy")
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

	var cfg ProxyConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, liberr.New(CodeLoadFailed.Uint16(), "unmarshal config: "+err.Error())
	}

	if lerr := cfg.Validate(); lerr != nil {
		return nil, lerr
	}

	return &cfg, nil
}

// BindProxyFlags registers the command-line flags LoadProxy will bind against.
func BindProxyFlags(flags *pflag.FlagSet) {
	flags.String("server.address", "", "listen address (host:port)")
	flags.String("admin.address", "", "admin HTTP listen address")
	flags.Int("worker.threads", 0, "worker thread count")
	flags.Bool("tls.enabled", false, "terminate TLS on the listener")
	flags.String("backend.address", "", "remote cache address to forward to")
	flags.Int("backend.pool_size", 0, "max concurrent backend connections")
}

// Validate rejects configurations the proxy cannot start with.
func (c *ProxyConfig) Validate() liberr.Error {
	if c.Server.Address == "" {
		return liberr.New(CodeValidateFailed.Uint16(), "server.address must not be empty")
	}
	if c.Backend.Address == "" {
		return liberr.New(CodeValidateFailed.Uint16(), "backend.address must not be empty")
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
func (c *ProxyConfig) TLSConfig() (libcert.TLSConfig, liberr.Error) {
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
