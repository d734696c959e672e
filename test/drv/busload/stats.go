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

package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

type (
	// DeliveryStat aggregates publish-to-subscriber latencies.
	DeliveryStat struct {
		mtx       sync.Mutex
		hist      *hdrhistogram.Histogram
		total     time.Duration
		numErrors int64
	}

	StatsData struct {
		throughput   float32
		avgLatency   time.Duration
		minLatency   time.Duration
		maxLatency   time.Duration
		p50Latency   time.Duration
		p95Latency   time.Duration
		p99Latency   time.Duration
		p9999Latency time.Duration
		numDelivered int64
		numErrors    int64
	}
)

func (s *DeliveryStat) Init() {
	s.mtx.Lock()
	if s.hist == nil {
		s.hist = hdrhistogram.New(1, int64(3600*time.Second), 3)
	}
	s.mtx.Unlock()
}

func (s *DeliveryStat) Put(tm time.Duration, err error) {
	s.mtx.Lock()
	s.hist.RecordValues(int64(tm), 1)
	s.total += tm
	if err != nil {
		s.numErrors++
	}
	s.mtx.Unlock()
}

func (s *DeliveryStat) GetStats() (stat StatsData) {
	s.mtx.Lock()
	stat.numDelivered = s.hist.TotalCount()
	stat.numErrors = s.numErrors
	stat.minLatency = time.Duration(s.hist.Min())
	stat.maxLatency = time.Duration(s.hist.Max())
	stat.p50Latency = time.Duration(s.hist.ValueAtQuantile(50.))
	stat.p95Latency = time.Duration(s.hist.ValueAtQuantile(95.))
	stat.p99Latency = time.Duration(s.hist.ValueAtQuantile(99.))
	stat.p9999Latency = time.Duration(s.hist.ValueAtQuantile(99.99))
	total := s.total
	s.mtx.Unlock()

	if stat.numDelivered != 0 {
		v := float32(total) / float32(stat.numDelivered)
		stat.avgLatency = time.Duration(v)
		stat.throughput = 1.0e9 / v
	}
	return
}

func (s *DeliveryStat) Reset() {
	s.mtx.Lock()
	s.hist.Reset()
	s.numErrors = 0
	s.total = 0
	s.mtx.Unlock()
}

func (s *DeliveryStat) PrettyPrint(w io.Writer, label string) {
	stat := s.GetStats()
	us := func(d time.Duration) time.Duration {
		return d.Round(time.Microsecond)
	}
	fmt.Fprintln(w,
		`
 delivery/s |                              delivery latency                                            | delivered  | errors
  average   | average    | min        | max        |        50% |      95%   |      99%   |     99.99% |            |
------------+------------+------------+------------+------------+------------+------------+------------+------------+--------`)
	fmt.Fprintf(w, "%12.2f %12s %12s %12s %12s %12s %12s %12s %12d %8d  %s\n",
		stat.throughput, us(stat.avgLatency), us(stat.minLatency), us(stat.maxLatency),
		us(stat.p50Latency), us(stat.p95Latency), us(stat.p99Latency), us(stat.p9999Latency),
		stat.numDelivered, stat.numErrors, label)
}
