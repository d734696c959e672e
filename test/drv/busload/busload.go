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

// busload drives a tag bus with paced SETs from a writer connection
// and measures publish-to-subscriber latency on an echo connection.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang/glog"

	"tagbus/pkg/client"
	"tagbus/pkg/cmd"
	"tagbus/pkg/proto"
	"tagbus/pkg/tag"
	"tagbus/pkg/util"
	"tagbus/pkg/version"
)

type Config struct {
	Server          string
	NumTags         int
	NumSetPerSecond int
	RunningTime     int // seconds, 0 runs until interrupted
	StatOutputRate  int // seconds between moving-window reports
}

var defaultConfig = Config{
	Server:          client.DefaultConfig.ServerAddr,
	NumTags:         10,
	NumSetPerSecond: 1000,
	RunningTime:     100,
	StatOutputRate:  10,
}

type loadDriver struct {
	config Config

	writer *client.Client
	echo   *client.Client

	writerTags []*tag.Tag
	stats      DeliveryStat
	moving     DeliveryStat
}

func (d *loadDriver) connect(module string) *client.Client {
	cfg := client.DefaultConfig
	cfg.ServerAddr = d.config.Server
	cfg.Module = module
	cli := client.New(&cfg, tag.NewBus())
	cli.Start()
	if !cli.WaitConnected(5 * time.Second) {
		glog.Exitf("cannot connect to bus server %s", d.config.Server)
	}
	return cli
}

func tagName(i int) string {
	return fmt.Sprintf("load_%04d", i)
}

func (d *loadDriver) setup() {
	d.writer = d.connect("busload-writer")
	d.echo = d.connect("busload-echo")
	d.stats.Init()
	d.moving.Init()

	for i := 0; i < d.config.NumTags; i++ {
		wt, err := d.writer.Bus().Tag(tagName(i), proto.KindFloat)
		if err != nil {
			glog.Exitf("%s: %v", tagName(i), err)
		}
		d.writerTags = append(d.writerTags, wt)

		et, err := d.echo.Bus().Tag(tagName(i), proto.KindFloat)
		if err != nil {
			glog.Exitf("%s: %v", tagName(i), err)
		}
		et.AddCallback(func(t *tag.Tag) {
			lat := time.Duration(util.NowUS()-t.TimeUS()) * time.Microsecond
			if lat < 0 {
				lat = 0
			}
			d.stats.Put(lat, nil)
			d.moving.Put(lat, nil)
		}, 0)
	}

	// wait for id assignment and echo subscriptions to settle
	deadline := time.Now().Add(10 * time.Second)
	for i := 0; i < d.config.NumTags; i++ {
		for d.writer.TagID(tagName(i)) == 0 || d.echo.TagID(tagName(i)) == 0 {
			if time.Now().After(deadline) {
				glog.Exitf("tag registration did not settle")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	time.Sleep(100 * time.Millisecond)
}

func (d *loadDriver) run() {
	interval := time.Second / time.Duration(d.config.NumSetPerSecond)
	if interval <= 0 {
		interval = time.Microsecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var chStop <-chan time.Time
	if d.config.RunningTime > 0 {
		chStop = time.After(time.Duration(d.config.RunningTime) * time.Second)
	}
	chReport := time.Tick(time.Duration(d.config.StatOutputRate) * time.Second)

	seq := 0
	for {
		select {
		case <-ticker.C:
			t := d.writerTags[seq%len(d.writerTags)]
			if err := t.Set(float64(seq)); err != nil {
				d.stats.Put(0, err)
				d.moving.Put(0, err)
			}
			seq++
		case <-chReport:
			d.moving.PrettyPrint(os.Stdout,
				fmt.Sprintf("last %ds", d.config.StatOutputRate))
			d.moving.Reset()
		case <-chStop:
			fmt.Printf("\n%d SETs written\n", seq)
			d.stats.PrettyPrint(os.Stdout, "overall")
			return
		}
	}
}

func main() {
	progName := filepath.Base(os.Args[0])
	var option cmd.Option
	var (
		displayVersion bool
		configFilename string
	)
	d := loadDriver{config: defaultConfig}
	option.Init(progName)
	option.BoolOption(&displayVersion, "version", false, "display version info")
	option.StringOption(&configFilename, "c|config", "", "specify toml config file")
	option.StringOption(&d.config.Server, "s|server", defaultConfig.Server, "specify bus server address")
	option.IntOption(&d.config.NumTags, "n|num-tags", defaultConfig.NumTags, "specify the number of writer tags")
	option.IntOption(&d.config.NumSetPerSecond, "rate", defaultConfig.NumSetPerSecond, "specify the target SETs per second")
	option.IntOption(&d.config.RunningTime, "time", defaultConfig.RunningTime, "specify the running time in seconds, 0 for unbounded")
	option.IntOption(&d.config.StatOutputRate, "stat-rate", defaultConfig.StatOutputRate, "specify seconds between reports")
	if err := option.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if displayVersion {
		version.PrintVersionInfo()
		return
	}
	if configFilename != "" {
		fileCfg := defaultConfig
		if _, err := toml.DecodeFile(configFilename, &fileCfg); err != nil {
			glog.Exitf("config file %q: %v", configFilename, err)
		}
		// flags win over the file only when given; reparse over the file values
		d.config = fileCfg
		option.Parse(os.Args[1:])
	}
	if d.config.NumTags <= 0 || d.config.NumSetPerSecond <= 0 || d.config.StatOutputRate <= 0 {
		glog.Exitf("num-tags, rate and stat-rate must be positive")
	}

	d.setup()
	defer d.writer.Stop()
	defer d.echo.Stop()
	d.run()
}
