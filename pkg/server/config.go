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

package server

import (
	"tagbus/pkg/io"
)

const DefaultListenAddr = "127.0.0.1:1324"

type Config struct {
	// ListenAddr is loopback by default; the bus wire carries no
	// authentication, an external proxy terminates anything public.
	ListenAddr string

	Conn io.ConnConfig

	// EventQueueSize bounds the channel between session readers and
	// the core goroutine.
	EventQueueSize int
}

var DefaultConfig = Config{
	ListenAddr:     DefaultListenAddr,
	Conn:           io.DefaultConnConfig,
	EventQueueSize: 4096,
}

func (c *Config) SetDefaultIfNotDefined() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = DefaultConfig.EventQueueSize
	}
	c.Conn.SetDefaultIfNotDefined()
}
