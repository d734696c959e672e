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

// Package config loads YAML tag declarations and bus endpoint settings
// for client modules whose deployments are file-driven.
package config

import (
	"fmt"
	"os"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"tagbus/pkg/proto"
	"tagbus/pkg/tag"
)

// TagDef is one tag declaration as written in YAML. Unset numeric
// options stay nil so defaulting can tell "absent" from zero.
type TagDef struct {
	Type     string      `yaml:"type"`
	Desc     string      `yaml:"desc"`
	Units    string      `yaml:"units"`
	Format   string      `yaml:"format"`
	Min      *float64    `yaml:"min"`
	Max      *float64    `yaml:"max"`
	DP       *int        `yaml:"dp"`
	Deadband *float64    `yaml:"deadband"`
	Multi    []string    `yaml:"multi"`
	Init     interface{} `yaml:"init"`

	kind proto.ValueKind
}

// Kind reports the scalar kind the declaration normalised to. Valid
// only after Normalize.
func (d *TagDef) Kind() proto.ValueKind {
	return d.kind
}

// BusConfig is the process-level bus endpoint section.
type BusConfig struct {
	Addr string `yaml:"ip"`
	Port int    `yaml:"port"`
}

func (b *BusConfig) ServerAddr() string {
	addr := b.Addr
	if addr == "" {
		addr = "127.0.0.1"
	}
	port := b.Port
	if port == 0 {
		port = 1324
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// File is a parsed module configuration: the bus endpoint plus the
// tag dictionary.
type File struct {
	Bus  BusConfig          `yaml:"bus"`
	Tags map[string]*TagDef `yaml:"tags"`
}

var kindByType = map[string]proto.ValueKind{
	"int":   proto.KindInt,
	"float": proto.KindFloat,
	"str":   proto.KindText,
	"bytes": proto.KindBytes,
	"dict":  proto.KindJSON,
	"list":  proto.KindJSON,
}

// Normalize validates one declaration and fills in defaults: missing
// type is float, multi forces int with min 0 / max len-1, dp defaults
// to 2 for float and 0 for int.
func (d *TagDef) Normalize(name string) error {
	if !proto.ValidTagName(name) {
		return fmt.Errorf("tag %q: %w", name, proto.ErrInvalidTagName)
	}
	if len(d.Multi) > 0 {
		if d.Type != "" && d.Type != "int" {
			return fmt.Errorf("tag %q: multi conflicts with type %q", name, d.Type)
		}
		d.Type = "int"
		zero, top := 0.0, float64(len(d.Multi)-1)
		d.Min, d.Max = &zero, &top
	}
	if d.Type == "" {
		d.Type = "float"
	}
	kind, ok := kindByType[d.Type]
	if !ok {
		return fmt.Errorf("tag %q: unknown type %q", name, d.Type)
	}
	d.kind = kind
	switch kind {
	case proto.KindInt, proto.KindFloat:
		if d.DP == nil {
			dp := 0
			if kind == proto.KindFloat {
				dp = 2
			}
			d.DP = &dp
		}
	default:
		if d.DP != nil {
			glog.Warningf("tag %s: dp ignored for type %s", name, d.Type)
			d.DP = nil
		}
		if d.Min != nil || d.Max != nil || d.Deadband != nil {
			glog.Warningf("tag %s: min/max/deadband ignored for type %s", name, d.Type)
			d.Min, d.Max, d.Deadband = nil, nil, nil
		}
	}
	if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
		return fmt.Errorf("tag %q: min %v above max %v", name, *d.Min, *d.Max)
	}
	return nil
}

// Load reads and normalises a module configuration file.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse normalises a module configuration from YAML bytes.
func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for name, def := range f.Tags {
		if def == nil {
			def = &TagDef{}
			f.Tags[name] = def
		}
		if err := def.Normalize(name); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// Apply creates every declared tag on the bus registry, attaches
// metadata and seeds init values as local writes at time 0 so any
// value already on the wire wins.
func (f *File) Apply(bus *tag.Bus) error {
	for name, def := range f.Tags {
		tg, err := bus.Tag(name, def.kind)
		if err != nil {
			return fmt.Errorf("config: %q: %w", name, err)
		}
		tg.SetMeta(tag.Meta{
			Desc:     def.Desc,
			Units:    def.Units,
			Format:   def.Format,
			Min:      def.Min,
			Max:      def.Max,
			DP:       def.DP,
			Deadband: def.Deadband,
			Multi:    def.Multi,
		})
		if def.Init != nil {
			if err := tg.SetAt(def.Init, 0); err != nil {
				return fmt.Errorf("config: %q init: %w", name, err)
			}
		}
	}
	glog.V(1).Infof("config: applied %d tag declarations", len(f.Tags))
	return nil
}
