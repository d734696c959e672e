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

// Package cfg layers TOML configuration: defaults from a struct, a
// config file over them, command-line overrides over that, written
// back onto the struct. Keys compare case-insensitively. Not safe for
// concurrent use.
package cfg

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	kv map[string]keyValue
}

// keyValue keeps the original key spelling next to the value; nested
// tables store a map[string]keyValue value.
type keyValue struct {
	key   string
	value interface{}
}

// ReadFrom merges properties from a struct or map, usually the
// compiled-in defaults.
func (c *Config) ReadFrom(i interface{}) error {
	var buf bytes.Buffer
	if i != nil {
		if err := toml.NewEncoder(&buf).Encode(i); err != nil {
			return err
		}
	}
	return c.ReadFromToml(&buf)
}

// ReadFromToml merges properties from a TOML stream.
func (c *Config) ReadFromToml(r io.Reader) error {
	m := make(map[string]interface{})
	if _, err := toml.DecodeReader(r, &m); err != nil {
		return err
	}
	return c.mergeRaw(m)
}

// ReadFromTomlFile merges properties from a TOML file.
func (c *Config) ReadFromTomlFile(file string) error {
	m := make(map[string]interface{})
	if _, err := toml.DecodeFile(file, &m); err != nil {
		return err
	}
	return c.mergeRaw(m)
}

// WriteTo decodes the accumulated properties onto a struct or map.
func (c *Config) WriteTo(v interface{}) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(plainMap(c.kv)); err != nil {
		return err
	}
	_, err := toml.Decode(buf.String(), v)
	return err
}

// WriteToToml renders the accumulated properties as TOML.
func (c *Config) WriteToToml(w io.Writer) error {
	return toml.NewEncoder(w).Encode(plainMap(c.kv))
}

// GetValue looks a dot-delimited key up; nil when absent. Table values
// come back as map[string]interface{}.
func (c *Config) GetValue(dotKey string) interface{} {
	m := c.kv
	keys := strings.Split(dotKey, ".")
	for i, k := range keys {
		v, ok := m[strings.ToLower(k)]
		if !ok {
			return nil
		}
		sub, isMap := v.value.(map[string]keyValue)
		if i == len(keys)-1 {
			if isMap {
				return plainMap(sub)
			}
			return v.value
		}
		if !isMap {
			return nil
		}
		m = sub
	}
	return nil
}

// SetKeyValue overrides one dot-delimited key, creating intermediate
// tables as needed. "-O listener.addr=:1324" style flags land here.
func (c *Config) SetKeyValue(dotKey string, v interface{}) {
	if c.kv == nil {
		c.kv = make(map[string]keyValue)
	}
	m := c.kv
	keys := strings.Split(dotKey, ".")
	for _, k := range keys[:len(keys)-1] {
		lk := strings.ToLower(k)
		if cur, ok := m[lk]; ok {
			if sub, isMap := cur.value.(map[string]keyValue); isMap {
				m = sub
				continue
			}
		}
		sub := make(map[string]keyValue)
		m[lk] = keyValue{k, sub}
		m = sub
	}
	last := keys[len(keys)-1]
	m[strings.ToLower(last)] = keyValue{last, v}
}

// Merge layers another Config over this one, overriding scalars and
// merging tables.
func (c *Config) Merge(overrides *Config) error {
	if c.kv == nil {
		c.kv = make(map[string]keyValue)
	}
	return mergeKV(c.kv, overrides.kv)
}

func (c *Config) mergeRaw(from map[string]interface{}) error {
	if c.kv == nil {
		c.kv = make(map[string]keyValue)
	}
	return mergeKV(c.kv, toKVMap(from))
}

func mergeKV(to, from map[string]keyValue) error {
	for lk, v := range from {
		vm, vIsMap := v.value.(map[string]keyValue)
		cur, found := to[lk]
		if !found {
			if vIsMap {
				sub := make(map[string]keyValue)
				to[lk] = keyValue{v.key, sub}
				if err := mergeKV(sub, vm); err != nil {
					return err
				}
			} else {
				to[lk] = v
			}
			continue
		}
		curMap, curIsMap := cur.value.(map[string]keyValue)
		if curIsMap != vIsMap {
			return fmt.Errorf("cfg: key %q: table and scalar collide", v.key)
		}
		if vIsMap {
			if err := mergeKV(curMap, vm); err != nil {
				return err
			}
		} else {
			to[lk] = v
		}
	}
	return nil
}

func toKVMap(from map[string]interface{}) map[string]keyValue {
	out := make(map[string]keyValue, len(from))
	for k, v := range from {
		if vm, ok := v.(map[string]interface{}); ok {
			out[strings.ToLower(k)] = keyValue{k, toKVMap(vm)}
		} else {
			out[strings.ToLower(k)] = keyValue{k, v}
		}
	}
	return out
}

func plainMap(from map[string]keyValue) map[string]interface{} {
	out := make(map[string]interface{}, len(from))
	for _, v := range from {
		if vm, ok := v.value.(map[string]keyValue); ok {
			out[v.key] = plainMap(vm)
		} else {
			out[v.key] = v.value
		}
	}
	return out
}
