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

// Command segcached runs the segment-structured memcache-compatible cache
// server described by the server package: a listener thread, a worker
// pool, and a storage maintenance ticker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	libconfig "github.com/sabouaram/segcached/config"
	libserver "github.com/sabouaram/segcached/server"
	libver "github.com/sabouaram/segcached/version"
)

// buildTime, buildHash are stamped by the release pipeline via -ldflags; the
// zero-value RFC3339 string falls back to time.Now() in NewVersion.
var (
	buildTime = ""
	buildHash = "dev"
)

var appVersion = libver.NewVersion(libver.License_MIT, "segcached",
	"segment-structured, memcache-compatible cache server",
	buildTime, buildHash, "0.1.0", "", "segcached", nil, 0)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:     "segcached",
		Short:   "segment-structured, memcache-compatible cache server",
		Version: appVersion.GetInfo(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, cmd.Flags())
		},
	}

	root.Flags().StringVarP(&configFile, "config", "c", "", "path to a config file (toml/yaml/json)")
	libconfig.BindFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string, flags *pflag.FlagSet) error {
	libserver.VersionInfo = appVersion.GetInfo()

	cfg, lerr := libconfig.Load(configFile, flags)
	if lerr != nil {
		fmt.Fprintln(os.Stderr, lerr)
		os.Exit(2)
	}

	sv, lerr := libserver.New(cfg)
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
