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

// The tag bus daemon.
package app

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"tagbus/cmd/busserv/config"
	"tagbus/pkg/cmd"
	"tagbus/pkg/initmgr"
	"tagbus/pkg/server"
	"tagbus/pkg/service"
	"tagbus/pkg/stats"
	"tagbus/pkg/version"
)

func Main() {
	defer initmgr.Finalize()

	progName := filepath.Base(os.Args[0])
	var option cmd.Option
	var displayVersion bool
	var configFilename string
	option.Init(progName)
	option.BoolOption(&displayVersion, "version", false, "display version info")
	option.StringOption(&configFilename, "c|config", "", "specify toml config file")
	option.Usage = func() {
		fmt.Printf(`
NAME
  %s - tag bus server

USAGE
  %s <-version>
  %s <-c|-config=<config file>> [-O key=value ...]
`, progName, progName, progName)
	}
	args, overrides := splitOverrides(os.Args[1:])
	if err := option.Parse(args); err != nil {
		os.Exit(2)
	}
	if displayVersion {
		version.PrintVersionInfo()
		if configFilename == "" {
			return
		}
	}
	if configFilename == "" {
		glog.Exitf("\n\n*** missing config option ***\n\n")
	}
	if _, err := os.Stat(configFilename); errors.Is(err, fs.ErrNotExist) {
		glog.Exitf("\n\n*** config file %q not found ***\n\n", configFilename)
	}

	initmgr.Register(config.Initializer, configFilename, overrides)
	initmgr.Init() // config first, everything below reads it
	cfg := &config.Conf

	initmgr.RegisterWithFuncs(initLogging, glog.Flush, cfg.LogLevel)
	initmgr.Init()
	cfg.Dump()

	srv := server.NewServer(&cfg.Config)

	units := []service.IUnit{
		&service.UnitFuncs{UnitName: "bus server", StartFunc: srv.Start, StopFunc: srv.Stop},
	}

	var statelog *stats.StateLog
	if cfg.StateLogEnabled {
		statelog = stats.NewStateLog(progName, cfg.StateLogInterval.Duration,
			stats.NewServerStates(srv.CountersRef()))
		units = append(units, &service.UnitFuncs{
			UnitName: "state log",
			StartFunc: func() error {
				w, err := stats.NewFileStatesWriter(statelog, cfg.StateLogDir)
				if err != nil {
					return err
				}
				statelog.AddStateWriter(w)
				statelog.Run()
				return nil
			},
			StopFunc: statelog.Quit,
		})
	}

	if cfg.HttpMonAddr != "" {
		var mon *stats.HttpMonitor
		units = append(units, &service.UnitFuncs{
			UnitName: "http monitor",
			StartFunc: func() error {
				var err error
				mon, err = stats.NewHttpMonitor(cfg.HttpMonAddr, srv, statelog)
				if err != nil {
					return err
				}
				mon.Start()
				glog.Infof("http monitor on %s", mon.Addr())
				return nil
			},
			StopFunc: func() {
				if mon != nil {
					mon.Stop()
				}
			},
		})
	}

	svc := service.New(service.Config{PidFileName: cfg.PidFileName}, units...)
	if err := svc.Run(); err != nil {
		glog.Exitf("%s: %v", progName, err)
	}
}

// splitOverrides pulls "-O key=value" pairs out of the argument list
// before flag parsing; they layer over the config file.
func splitOverrides(args []string) ([]string, map[string]interface{}) {
	var rest []string
	overrides := make(map[string]interface{})
	for i := 0; i < len(args); i++ {
		if args[i] != "-O" && args[i] != "--O" {
			rest = append(rest, args[i])
			continue
		}
		if i+1 >= len(args) {
			break
		}
		i++
		kv := strings.SplitN(args[i], "=", 2)
		if len(kv) == 2 {
			overrides[kv[0]] = sniffValue(kv[1])
		}
	}
	return rest, overrides
}

// sniffValue types an override so it decodes onto int/bool/float
// config fields.
func sniffValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// initLogging maps the configured LogLevel onto glog's stderr flags.
func initLogging(args ...interface{}) error {
	level := "INFO"
	if len(args) > 0 {
		if s, ok := args[0].(string); ok && s != "" {
			level = s
		}
	}
	if !flag.Parsed() {
		flag.CommandLine.Parse(nil) // glog logs through the default flag set
	}
	if err := flag.Set("logtostderr", "true"); err != nil {
		return err
	}
	switch strings.ToUpper(level) {
	case "VERBOSE":
		return flag.Set("v", "2")
	case "DEBUG":
		return flag.Set("v", "1")
	case "INFO", "WARNING", "ERROR":
		return flag.Set("stderrthreshold", strings.ToUpper(level))
	default:
		glog.Warningf("unknown LogLevel %q, using INFO", level)
	}
	return nil
}
