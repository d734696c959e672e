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

package client

import (
	"time"

	"tagbus/pkg/io"
	"tagbus/pkg/util"
)

type Config struct {
	// ServerAddr is the bus server endpoint, loopback in production.
	ServerAddr string

	// Module names this process in the hello, for the server log.
	Module string

	Conn io.ConnConfig

	DialTimeout util.Duration

	// Reconnect backoff, doubling from Base to Max with full jitter.
	BackoffBase util.Duration
	BackoffMax  util.Duration

	// DispatchQueueSize bounds inbound messages between the read
	// goroutine and the dispatch goroutine.
	DispatchQueueSize int
}

var DefaultConfig = Config{
	ServerAddr:        "127.0.0.1:1324",
	Module:            "module",
	Conn:              io.DefaultConnConfig,
	DialTimeout:       util.Duration{Duration: 5 * time.Second},
	BackoffBase:       util.Duration{Duration: 100 * time.Millisecond},
	BackoffMax:        util.Duration{Duration: 30 * time.Second},
	DispatchQueueSize: 4096,
}

func init() {
	// silence over a minute means the server is gone
	DefaultConfig.Conn.ReadTimeout = util.Duration{Duration: 60 * time.Second}
}

func (c *Config) SetDefaultIfNotDefined() {
	if c.ServerAddr == "" {
		c.ServerAddr = DefaultConfig.ServerAddr
	}
	if c.Module == "" {
		c.Module = DefaultConfig.Module
	}
	if c.DialTimeout.Duration <= 0 {
		c.DialTimeout = DefaultConfig.DialTimeout
	}
	if c.BackoffBase.Duration <= 0 {
		c.BackoffBase = DefaultConfig.BackoffBase
	}
	if c.BackoffMax.Duration < c.BackoffBase.Duration {
		c.BackoffMax = DefaultConfig.BackoffMax
	}
	if c.DispatchQueueSize <= 0 {
		c.DispatchQueueSize = DefaultConfig.DispatchQueueSize
	}
	if c.Conn.ReadTimeout.Duration <= 0 {
		c.Conn.ReadTimeout = DefaultConfig.Conn.ReadTimeout
	}
	c.Conn.SetDefaultIfNotDefined()
}
