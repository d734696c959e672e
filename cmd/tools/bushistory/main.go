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

// bushistory records numeric tag time-series to disk and answers
// range queries over the bus.
package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"

	"tagbus/pkg/client"
	"tagbus/pkg/cmd"
	"tagbus/pkg/config"
	"tagbus/pkg/history"
	"tagbus/pkg/tag"
	"tagbus/pkg/util"
	"tagbus/pkg/version"
)

func main() {
	progName := filepath.Base(os.Args[0])
	var option cmd.Option
	var (
		displayVersion bool
		configFilename string
		dataDir        string
		flushSecs      uint
	)
	option.Init(progName)
	option.BoolOption(&displayVersion, "version", false, "display version info")
	option.StringOption(&configFilename, "c|config", "", "specify yaml tag configuration file")
	option.StringOption(&dataDir, "dir", "./history", "specify the data directory")
	option.UintOption(&flushSecs, "flush", 60, "specify seconds between partial-chunk flushes")
	if err := option.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if displayVersion {
		version.PrintVersionInfo()
		return
	}
	if configFilename == "" {
		glog.Exitf("\n\n*** missing config option ***\n\n")
	}
	f, err := config.Load(configFilename)
	if err != nil {
		glog.Exitf("%v", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		glog.Exitf("%v", err)
	}

	bus := tag.NewBus()
	cfg := client.DefaultConfig
	cfg.ServerAddr = f.Bus.ServerAddr()
	cfg.Module = progName
	cli := client.New(&cfg, bus)

	hcfg := history.DefaultConfig
	hcfg.Dir = dataDir
	rec := history.New(&hcfg, bus, cli)
	if err := rec.Start(); err != nil {
		glog.Exitf("%v", err)
	}
	// declared tags join the registry after the recorder so it adopts
	// every one of them
	if err := f.Apply(bus); err != nil {
		glog.Exitf("%v", err)
	}

	cli.Start()
	defer cli.Stop()
	if !cli.WaitConnected(5 * time.Second) {
		glog.Warningf("bus server %s not reachable yet, recording anyway", cfg.ServerAddr)
	}

	flusher := util.NewPeriodic(time.Duration(flushSecs)*time.Second, func(time.Time) {
		rec.Flush()
	})
	flusher.Start()
	defer flusher.Stop()

	glog.Infof("%s recording %d declared tags under %s", progName, len(f.Tags), dataDir)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	rec.Stop()
}
