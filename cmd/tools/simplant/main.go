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

// simplant publishes a small simulated plant so a fresh checkout can
// exercise a live bus: a sine, a ramp, a random walk and a status tag.
package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"

	"tagbus/pkg/client"
	"tagbus/pkg/cmd"
	"tagbus/pkg/proto"
	"tagbus/pkg/tag"
	"tagbus/pkg/util"
	"tagbus/pkg/version"
)

const (
	sineTag   = "plant_sine"
	rampTag   = "plant_ramp"
	walkTag   = "plant_walk"
	statusTag = "plant_status"
)

var statusLabels = []string{"STOPPED", "RUNNING", "FAULT"}

func main() {
	progName := filepath.Base(os.Args[0])
	var option cmd.Option
	var (
		displayVersion bool
		serverAddr     string
		period         uint
	)
	option.Init(progName)
	option.BoolOption(&displayVersion, "version", false, "display version info")
	option.StringOption(&serverAddr, "s|server", client.DefaultConfig.ServerAddr, "specify bus server address")
	option.UintOption(&period, "period-ms", 1000, "specify the publish period in milliseconds")
	if err := option.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if displayVersion {
		version.PrintVersionInfo()
		return
	}

	cfg := client.DefaultConfig
	cfg.ServerAddr = serverAddr
	cfg.Module = progName
	bus := tag.NewBus()
	cli := client.New(&cfg, bus)

	sine, _ := bus.Tag(sineTag, proto.KindFloat)
	ramp, _ := bus.Tag(rampTag, proto.KindFloat)
	walk, _ := bus.Tag(walkTag, proto.KindFloat)
	status, _ := bus.Tag(statusTag, proto.KindInt)
	status.SetMeta(tag.Meta{Multi: statusLabels})

	cli.Start()
	defer cli.Stop()
	if !cli.WaitConnected(5 * time.Second) {
		glog.Warningf("bus server %s not reachable yet, publishing anyway", serverAddr)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()
	level := 50.0
	beat := 0

	p := util.NewPeriodic(time.Duration(period)*time.Millisecond, func(now time.Time) {
		elapsed := now.Sub(start).Seconds()
		sine.Set(50 + 45*math.Sin(2*math.Pi*elapsed/60))
		ramp.Set(math.Mod(elapsed, 100))
		level += rng.Float64()*2 - 1
		if level < 0 {
			level = 0
		} else if level > 100 {
			level = 100
		}
		walk.Set(level)
		// cycle the state machine every 30 beats
		beat++
		if beat%30 == 0 {
			status.Set(int64((beat / 30) % len(statusLabels)))
		}
	})
	p.Start()
	defer p.Stop()
	status.Set(int64(1)) // RUNNING

	fmt.Printf("%s publishing %s, %s, %s, %s every %dms\n",
		progName, sineTag, rampTag, walkTag, statusTag, period)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	glog.Infof("%s shutting down (skipped %d beats)", progName, p.Skipped())
}
