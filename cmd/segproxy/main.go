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

// Command segproxy runs the proxy deployment mode: the same front-end
// memcache dialect as segcached, forwarded to a remote backend cache
// through a pooled connection (spec.md §9).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	libconfig "github.com/sabouaram/segcached/config"
	libproxy "github.com/sabouaram/segcached/proxy"
	libver "github.com/sabouaram/segcached/version"
)

var (
	buildTime = ""
	buildHash = "dev"
)

var appVersion = libver.NewVersion(libver.License_MIT, "segproxy",
	"memcache-compatible forwarding proxy",
	buildTime, buildHash, "0.1.0", "", "segproxy", nil, 0)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:     "segproxy",
		Short:   "memcache-compatible forwarding proxy",
		Version: appVersion.GetInfo(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, cmd.Flags())
		},
	}

	root.Flags().StringVarP(&configFile, "config", "c", "", "path to a config file (toml/yaml/json)")
	libconfig.BindProxyFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string, flags *pflag.FlagSet) error {
	libproxy.VersionInfo = appVersion.GetInfo()

	cfg, lerr := libconfig.LoadProxy(configFile, flags)
	if lerr != nil {
		fmt.Fprintln(os.Stderr, lerr)
		os.Exit(2)
	}

	sv, lerr := libproxy.New(cfg)
	if lerr != nil {
		fmt.Fprintln(os.Stderr, lerr)
		os.Exit(3)
	}

	if err := sv.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return nil
}
