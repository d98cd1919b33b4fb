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

// Package version carries build-time identity for a segcached binary: package
// name, release tag, build hash, author and license, surfaced through cobra's
// --version command.
package version

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"
)

// License identifies the license boilerplate attached to a Version.
type License uint8

const (
	License_None License = iota
	License_MIT
	License_Apache_v2
	License_GNU_GPL_v3
)

func (l License) name() string {
	switch l {
	case License_MIT:
		return "MIT License"
	case License_Apache_v2:
		return "Apache License 2.0"
	case License_GNU_GPL_v3:
		return "GNU GENERAL PUBLIC LICENSE Version 3"
	default:
		return "Unlicensed"
	}
}

func (l License) boiler() string {
	switch l {
	case License_MIT:
		return "Permission is hereby granted, free of charge, to any person obtaining a copy of this software to deal in the Software without restriction."
	case License_Apache_v2:
		return "Licensed under the Apache License, Version 2.0 (the \"License\"); you may not use this file except in compliance with the License."
	case License_GNU_GPL_v3:
		return "This program is free software: you can redistribute it and/or modify it under the terms of the GNU General Public License as published by the Free Software Foundation."
	default:
		return ""
	}
}

// Version describes the build identity of a running binary.
type Version interface {
	GetPackage() string
	GetDescription() string
	GetBuild() string
	GetRelease() string
	GetAuthor() string
	GetPrefix() string
	GetDate() string
	GetTime() time.Time
	GetAppId() string
	GetLicenseName() string
	GetLicenseBoiler(extra ...License) string
	GetRootPackagePath() string
	GetHeader() string
	GetInfo() string
}

type version struct {
	lic     License
	pack    string
	desc    string
	date    time.Time
	build   string
	release string
	author  string
	prefix  string
	root    string
}

// NewVersion builds a Version instance. date is parsed as RFC3339 and falls
// back to time.Now() when it cannot be parsed. obj is any value living in the
// package whose root path should be reported; numSubPackage trims that many
// trailing path segments off the reflected package path (0 keeps it as-is).
func NewVersion(lic License, pack, desc, date, build, release, author, prefix string, obj interface{}, numSubPackage int) Version {
	t, err := time.Parse(time.RFC3339, date)
	if err != nil {
		t = time.Now()
	}

	root := ""
	if obj != nil {
		root = reflect.TypeOf(obj).PkgPath()
		if numSubPackage > 0 {
			parts := strings.Split(root, "/")
			if numSubPackage < len(parts) {
				parts = parts[:len(parts)-numSubPackage]
			}
			root = strings.Join(parts, "/")
		}
	}

	if pack == "" || strings.EqualFold(pack, "noname") {
		parts := strings.Split(root, "/")
		pack = parts[len(parts)-1]
	}

	return &version{
		lic:     lic,
		pack:    pack,
		desc:    desc,
		date:    t,
		build:   build,
		release: release,
		author:  author,
		prefix:  strings.ToUpper(prefix),
		root:    root,
	}
}

func (v *version) GetPackage() string     { return v.pack }
func (v *version) GetDescription() string { return v.desc }
func (v *version) GetBuild() string       { return v.build }
func (v *version) GetRelease() string     { return v.release }
func (v *version) GetAuthor() string      { return v.author }
func (v *version) GetPrefix() string      { return v.prefix }
func (v *version) GetDate() string        { return v.date.Format(time.RFC3339) }
func (v *version) GetTime() time.Time     { return v.date }
func (v *version) GetAppId() string       { return runtime.GOOS + "/" + runtime.GOARCH }
func (v *version) GetLicenseName() string { return v.lic.name() }
func (v *version) GetRootPackagePath() string { return v.root }

func (v *version) GetLicenseBoiler(extra ...License) string {
	var sb strings.Builder
	sb.WriteString(v.lic.boiler())
	for _, e := range extra {
		sb.WriteString("\n\n")
		sb.WriteString(e.boiler())
	}
	return sb.String()
}

func (v *version) GetHeader() string {
	return fmt.Sprintf("%s %s (build %s, %s)", v.pack, v.release, v.build, v.GetDate())
}

func (v *version) GetInfo() string {
	return fmt.Sprintf("%s\n%s\nAuthor: %s\nLicense: %s\n", v.GetHeader(), v.desc, v.author, v.GetLicenseName())
}
