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

package util

import (
	"math/rand"
	"time"
)

// Backoff yields reconnect delays. Each failure doubles the interval
// from Base up to Max; the returned delay is a uniformly random
// fraction of the current interval (full jitter).
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	cur time.Duration
}

func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if max < base {
		max = base
	}
	return &Backoff{Base: base, Max: max}
}

// NextDelay widens the interval and returns the delay to wait before
// the next attempt.
func (b *Backoff) NextDelay() time.Duration {
	if b.cur == 0 {
		b.cur = b.Base
	} else {
		b.cur *= 2
		if b.cur > b.Max {
			b.cur = b.Max
		}
	}
	return time.Duration(rand.Int63n(int64(b.cur))) + 1
}

// Reset starts the next failure over from Base. Call it once a
// connection has proven healthy.
func (b *Backoff) Reset() {
	b.cur = 0
}
