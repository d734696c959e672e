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

package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang/glog"

	"tagbus/pkg/cfg"
	"tagbus/pkg/initmgr"
	"tagbus/pkg/server"
	"tagbus/pkg/util"
)

var Initializer initmgr.IInitializer = initmgr.NewInitializer(initialize, finalize)

type Config struct {
	server.Config

	RootDir     string
	StateLogDir string
	HttpMonAddr string
	PidFileName string
	LogLevel    string

	StateLogEnabled  bool
	StateLogInterval util.Duration
}

var Conf = Config{
	Config:           server.DefaultConfig,
	StateLogDir:      "./",
	PidFileName:      "busserv.pid",
	LogLevel:         "INFO",
	StateLogEnabled:  true,
	StateLogInterval: util.Duration{Duration: time.Second},
}

// initialize layers the TOML file (args[0]) and any key=value
// overrides (args[1], may be nil) over the defaults.
func initialize(args ...interface{}) error {
	if len(args) < 1 {
		return fmt.Errorf("config: a file name argument is required")
	}
	file, ok := args[0].(string)
	if !ok {
		return fmt.Errorf("config: the file name argument must be a string")
	}
	var layers cfg.Config
	if err := layers.ReadFrom(&Conf); err != nil {
		return err
	}
	if err := layers.ReadFromTomlFile(file); err != nil {
		return err
	}
	if len(args) > 1 {
		if overrides, ok := args[1].(map[string]interface{}); ok {
			for k, v := range overrides {
				layers.SetKeyValue(k, v)
			}
		}
	}
	if err := layers.WriteTo(&Conf); err != nil {
		return err
	}
	return Conf.Validate()
}

func finalize() {
}

func (c *Config) Validate() error {
	c.Config.SetDefaultIfNotDefined()
	if c.StateLogInterval.Duration <= 0 {
		c.StateLogInterval.Duration = time.Second
	}
	c.validatePath(&c.StateLogDir)
	c.validatePath(&c.PidFileName)
	return nil
}

// paths resolve under RootDir unless absolute
func (c *Config) validatePath(path *string) {
	if c.RootDir == "" || path == nil || filepath.IsAbs(*path) {
		return
	}
	*path = filepath.Clean(filepath.Join(c.RootDir, *path))
}

func (c *Config) Dump() {
	var buf bytes.Buffer
	toml.NewEncoder(&buf).Encode(c)
	glog.Info(buf.String())
}
