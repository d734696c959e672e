//
//  Copyright 2023 PayPal Inc.
//
//  Licensed to the Apache Software Foundation (ASF) under one or more
//  contributor license agreements.  See the NOTICE file distributed with
//  this work for additional information regarding copyright ownership.
//  The ASF licenses this file to You under the Apache License, Version 2.0
//  (the "License"); you may not use this file except in compliance with
//  the License.  You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.
//

package cmd

import (
	"flag"
	"fmt"
	"strings"
)

// Option wraps a FlagSet so one option can carry alternative
// spellings, "s|server" style.
type Option struct {
	flag.FlagSet
	optsDesc string
}

func (o *Option) Init(name string) {
	o.FlagSet.Init(name, flag.ExitOnError)
}

func (o *Option) Desc() string {
	return o.optsDesc
}

func (o *Option) names(spec string) (opts string, list []string) {
	list = strings.Split(spec, "|")
	var b strings.Builder
	for i, n := range list {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("-" + n)
	}
	return b.String(), list
}

func (o *Option) StringOption(p *string, spec string, value string, usage string) {
	opts, list := o.names(spec)
	for _, n := range list {
		o.StringVar(p, n, value, "")
	}
	o.optsDesc += fmt.Sprintf("  %s string\n    \t(default %q)\n    \t%s\n\n", opts, value, usage)
}

func (o *Option) BoolOption(p *bool, spec string, value bool, usage string) {
	opts, list := o.names(spec)
	for _, n := range list {
		o.BoolVar(p, n, value, "")
	}
	o.optsDesc += fmt.Sprintf("  %s\n    \t(default %v)\n    \t%s\n\n", opts, value, usage)
}

func (o *Option) IntOption(p *int, spec string, value int, usage string) {
	opts, list := o.names(spec)
	for _, n := range list {
		o.IntVar(p, n, value, "")
	}
	o.optsDesc += fmt.Sprintf("  %s int\n    \t(default %v)\n    \t%s\n\n", opts, value, usage)
}

func (o *Option) UintOption(p *uint, spec string, value uint, usage string) {
	opts, list := o.names(spec)
	for _, n := range list {
		o.UintVar(p, n, value, "")
	}
	o.optsDesc += fmt.Sprintf("  %s uint\n    \t(default %v)\n    \t%s\n\n", opts, value, usage)
}
