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

package stats

import (
	"tagbus/pkg/server"
)

// NewServerStates builds the state-line columns for a bus server:
// gauges for connections and tags, per-tick deltas for traffic.
func NewServerStates(c *server.Counters) []IState {
	return []IState{
		NewGaugeState(&c.Active, "conns"),
		NewGaugeState(&c.Tags, "tags"),
		NewDeltaState(&c.Accepted, "accept"),
		NewDeltaState(&c.Sets, "set"),
		NewDeltaState(&c.Fanout, "fanout"),
		NewDeltaState(&c.Gets, "get"),
		NewDeltaState(&c.Subs, "sub"),
		NewDeltaState(&c.RTAs, "rta"),
		NewDeltaState(&c.Lists, "list"),
		NewDeltaState(&c.StaleDrops, "stale"),
		NewDeltaState(&c.Errs, "err"),
	}
}
