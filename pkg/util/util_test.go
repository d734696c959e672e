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
	"fmt"
	"testing"
	"time"
)

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("parsed %v, want 1m30s", d.Duration)
	}
	text, err := d.MarshalText()
	if err != nil || string(text) != "1m30s" {
		t.Errorf("MarshalText = %q, %v", text, err)
	}
	if err := d.UnmarshalText([]byte("ninety seconds")); err == nil {
		t.Errorf("UnmarshalText accepted garbage")
	}
}

func TestTimeUSRoundTrip(t *testing.T) {
	us := NowUS()
	if got := TimeFromUS(us).UnixMicro(); got != us {
		t.Errorf("TimeFromUS(%d).UnixMicro() = %d", us, got)
	}
}

func TestGetGIDDistinct(t *testing.T) {
	g1 := GetGID()
	ch := make(chan uint64)
	go func() { ch <- GetGID() }()
	g2 := <-ch
	if g1 == 0 || g2 == 0 {
		t.Fatalf("zero gid: %d %d", g1, g2)
	}
	if g1 == g2 {
		t.Errorf("distinct goroutines share gid %d", g1)
	}
}

func TestPartitionSpread(t *testing.T) {
	const parts = 8
	var counts [parts]int
	for i := 0; i < 4096; i++ {
		key := []byte(fmt.Sprintf("plant_tag_%d", i))
		counts[GetPartitionId(key, parts)]++
	}
	for i, c := range counts {
		if c == 0 {
			t.Errorf("partition %d never chosen", i)
		}
	}
}

func TestToPrintableString(t *testing.T) {
	if s := ToPrintableString([]byte{'a', 0x00, 'b', 0xff}); s != "a.b." {
		t.Errorf("ToPrintableString = %q", s)
	}
	if s := ToPrintableString(nil); s != "" {
		t.Errorf("ToPrintableString(nil) = %q", s)
	}
}
