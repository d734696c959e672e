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

/*
Package util implements shared utilities: microsecond bus timestamps,
murmur3 key partitioning, timer plumbing, periodic scheduling and
reconnect backoff.
*/
package util

import (
	"bytes"
	"runtime"
	"strconv"
	"time"

	"github.com/spaolacci/murmur3"
)

// http://blog.sgmansfield.com/2015/12/goroutine-ids/
// Goroutine Id, used for debugging and for the tag reentrancy guard
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

func Murmur3Hash(data []byte) uint32 {
	return murmur3.Sum32(data)
}

func GetPartitionId(key []byte, numPartitions uint32) uint32 {
	return Murmur3Hash(key) % numPartitions
}

// NowUS is the bus clock: microseconds since the Unix epoch.
func NowUS() int64 {
	return time.Now().UnixMicro()
}

func TimeFromUS(us int64) time.Time {
	return time.UnixMicro(us)
}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() (text []byte, err error) {
	text = []byte(d.Duration.String())
	return
}
