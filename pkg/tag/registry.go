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

package tag

import (
	"sync"

	"tagbus/pkg/proto"
	"tagbus/pkg/util"
)

const kRegistryShards = 32

// Bus is a process-wide tag registry. Tags are singletons by name
// within one Bus. Most processes use Default(); tests build their own
// so they can run in parallel.
type Bus struct {
	tags *util.ShardedMap

	mu       sync.Mutex
	onCreate []func(*Tag)
}

var defaultBus = NewBus()

func Default() *Bus {
	return defaultBus
}

func NewBus() *Bus {
	return &Bus{tags: util.NewShardedMap(kRegistryShards)}
}

// Tag returns the tag registered under name, creating it on first
// use. A second creation with the same name and type returns the
// existing instance; a different type is an error.
func (b *Bus) Tag(name string, kind proto.ValueKind) (*Tag, error) {
	if !proto.ValidTagName(name) {
		return nil, ErrInvalidName
	}
	t := &Tag{name: name, kind: kind, bus: b, value: proto.NullValue()}
	cur, created := b.tags.PutIfAbsent(name, t)
	if !created {
		existing := cur.(*Tag)
		if existing.kind != kind {
			return nil, ErrKindConflict
		}
		return existing, nil
	}
	b.mu.Lock()
	hooks := make([]func(*Tag), len(b.onCreate))
	copy(hooks, b.onCreate)
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(t)
	}
	return t, nil
}

// Find returns a registered tag or nil.
func (b *Bus) Find(name string) *Tag {
	if v, ok := b.tags.Get(name); ok {
		return v.(*Tag)
	}
	return nil
}

// Each visits every registered tag until f returns false.
func (b *Bus) Each(f func(*Tag) bool) {
	b.tags.Range(func(_ string, v interface{}) bool {
		return f(v.(*Tag))
	})
}

func (b *Bus) Len() int {
	return b.tags.Len()
}

// OnCreate registers a hook for future tag creations and replays it
// for the tags that already exist. A creation racing with the
// registration can be seen twice; consumers treat the notification as
// idempotent.
func (b *Bus) OnCreate(fn func(*Tag)) {
	b.mu.Lock()
	b.onCreate = append(b.onCreate, fn)
	b.mu.Unlock()
	b.Each(func(t *Tag) bool {
		fn(t)
		return true
	})
}
