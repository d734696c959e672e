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
	"sync"

	"github.com/golang/glog"
)

// ShardedMap is a string-keyed map partitioned by murmur3 hash, so
// lookups from many goroutines do not serialize on a single lock.
type mapShard struct {
	sync.RWMutex
	data map[string]interface{}
}

type ShardedMap struct {
	shards     []*mapShard
	shardCount uint32
}

func NewShardedMap(shardCount uint32) *ShardedMap {
	if shardCount == 0 {
		shardCount = 1
	}
	m := &ShardedMap{
		shards:     make([]*mapShard, shardCount),
		shardCount: shardCount,
	}
	for i := range m.shards {
		m.shards[i] = &mapShard{data: make(map[string]interface{})}
	}
	return m
}

func (m *ShardedMap) shard(key string) *mapShard {
	return m.shards[Murmur3Hash([]byte(key))%m.shardCount]
}

func (m *ShardedMap) Get(key string) (interface{}, bool) {
	s := m.shard(key)
	s.RLock()
	val, present := s.data[key]
	s.RUnlock()
	return val, present
}

func (m *ShardedMap) Put(key string, value interface{}) {
	s := m.shard(key)
	s.Lock()
	s.data[key] = value
	s.Unlock()
}

// PutIfAbsent returns the value already stored under key (nil if none)
// and whether the given value was stored.
func (m *ShardedMap) PutIfAbsent(key string, value interface{}) (interface{}, bool) {
	glog.V(2).Infof("map PutIfAbsent >> key:%s", key)
	s := m.shard(key)
	s.Lock() // can't use read lock and upgrade atomically
	cur, present := s.data[key]
	if !present {
		s.data[key] = value
	}
	s.Unlock()
	return cur, !present
}

func (m *ShardedMap) Delete(key string) {
	s := m.shard(key)
	s.Lock()
	delete(s.data, key)
	s.Unlock()
}

func (m *ShardedMap) Len() int {
	n := 0
	for _, s := range m.shards {
		s.RLock()
		n += len(s.data)
		s.RUnlock()
	}
	return n
}

// Range calls f for every entry until f returns false. Each shard is
// read-locked in turn; f must not mutate the map.
func (m *ShardedMap) Range(f func(key string, value interface{}) bool) {
	for _, s := range m.shards {
		s.RLock()
		for k, v := range s.data {
			if !f(k, v) {
				s.RUnlock()
				return
			}
		}
		s.RUnlock()
	}
}
