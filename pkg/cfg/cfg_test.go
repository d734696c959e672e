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

package cfg

import (
	"strings"
	"testing"
)

type testConf struct {
	ListenAddr string
	LogLevel   string
	Listener   struct {
		TUS int
	}
}

func TestLayering(t *testing.T) {
	var c Config
	defaults := testConf{ListenAddr: "127.0.0.1:1324", LogLevel: "info"}
	defaults.Listener.TUS = 55000
	if err := c.ReadFrom(&defaults); err != nil {
		t.Fatal(err)
	}
	// file layer overrides one scalar and one nested value
	file := "LogLevel = \"warning\"\n[Listener]\nTUS = 1000\n"
	if err := c.ReadFromToml(strings.NewReader(file)); err != nil {
		t.Fatal(err)
	}
	// flag layer overrides again, case-insensitively
	c.SetKeyValue("listener.tus", int64(2000))

	var out testConf
	if err := c.WriteTo(&out); err != nil {
		t.Fatal(err)
	}
	if out.ListenAddr != "127.0.0.1:1324" {
		t.Errorf("default lost: %q", out.ListenAddr)
	}
	if out.LogLevel != "warning" {
		t.Errorf("file override lost: %q", out.LogLevel)
	}
	if out.Listener.TUS != 2000 {
		t.Errorf("flag override lost: %d", out.Listener.TUS)
	}
}

func TestGetValue(t *testing.T) {
	var c Config
	if err := c.ReadFromToml(strings.NewReader("[A]\nB = \"x\"\n")); err != nil {
		t.Fatal(err)
	}
	if v := c.GetValue("a.b"); v != "x" {
		t.Errorf("a.b = %v", v)
	}
	if v := c.GetValue("a.missing"); v != nil {
		t.Errorf("missing key = %v", v)
	}
	m, ok := c.GetValue("a").(map[string]interface{})
	if !ok || m["B"] != "x" {
		t.Errorf("table value = %v", m)
	}
}

func TestMergeCollision(t *testing.T) {
	var base, over Config
	base.SetKeyValue("a.b", 1)
	over.SetKeyValue("a", 2) // scalar over a table
	if err := base.Merge(&over); err == nil {
		t.Error("expected a collision error")
	}
}
