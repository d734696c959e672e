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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"

	"tagbus/pkg/client"
	"tagbus/pkg/cmd"
	"tagbus/pkg/proto"
	"tagbus/pkg/tag"
)

const kCliModuleName = "buscli"

type (
	busCommandT struct {
		cmd.Command
		optServer  string
		optModule  string
		optTimeout uint
	}
	cmdGetT struct {
		busCommandT
	}
	cmdSetT struct {
		busCommandT
		optType string
	}
	cmdSubT struct {
		busCommandT
	}
	cmdListT struct {
		busCommandT
	}
	cmdRtaT struct {
		busCommandT
	}
)

func (c *busCommandT) Init(name string, desc string) {
	c.Command.Init(name, desc)
	c.StringOption(&c.optServer, "s|server", client.DefaultConfig.ServerAddr, "specify bus server address")
	c.StringOption(&c.optModule, "module", kCliModuleName, "specify the module name sent in the hello")
	c.UintOption(&c.optTimeout, "timeout", 5, "specify the timeout in seconds")
}

func (c *busCommandT) timeout() time.Duration {
	return time.Duration(c.optTimeout) * time.Second
}

func (c *busCommandT) connect() *client.Client {
	cfg := client.DefaultConfig
	cfg.ServerAddr = c.optServer
	cfg.Module = c.optModule
	cli := client.New(&cfg, tag.NewBus())
	cli.Start()
	if !cli.WaitConnected(c.timeout()) {
		cli.Stop()
		glog.Exitf("cannot connect to bus server %s", c.optServer)
	}
	return cli
}

func printTag(t *tag.Tag) {
	v := t.Value()
	when := time.UnixMicro(t.TimeUS()).Format("2006-01-02 15:04:05.000000")
	fmt.Printf("%-24s %s  (t=%s bus=%d)\n", t.Name(), v.String(), when, t.BusID())
}

func (c *cmdGetT) Exec() {
	names := c.Args()
	if len(names) == 0 {
		c.PrintUsage()
		os.Exit(2)
	}
	cli := c.connect()
	defer cli.Stop()
	for _, name := range names {
		tg, err := cli.Bus().Tag(name, proto.KindAny)
		if err != nil {
			glog.Exitf("%s: %v", name, err)
		}
		deadline := time.Now().Add(c.timeout())
		for tg.Value().IsNull() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		printTag(tg)
	}
}

func (c *cmdSetT) Init(name string, desc string) {
	c.busCommandT.Init(name, desc)
	c.StringOption(&c.optType, "type", "auto",
		"specify the value type: auto, int, float, str, bytes, json")
}

// parseValue maps the command-line string onto a typed value; auto
// tries int, then float, then falls back to text.
func (c *cmdSetT) parseValue(s string) (interface{}, proto.ValueKind, error) {
	switch c.optType {
	case "int":
		i, err := strconv.ParseInt(s, 10, 64)
		return i, proto.KindInt, err
	case "float":
		f, err := strconv.ParseFloat(s, 64)
		return f, proto.KindFloat, err
	case "str":
		return s, proto.KindText, nil
	case "bytes":
		return []byte(s), proto.KindBytes, nil
	case "json":
		var doc interface{}
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, proto.KindJSON, err
		}
		return json.RawMessage(s), proto.KindJSON, nil
	case "auto":
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, proto.KindInt, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, proto.KindFloat, nil
		}
		return s, proto.KindText, nil
	}
	return nil, 0, fmt.Errorf("unknown value type %q", c.optType)
}

func (c *cmdSetT) Exec() {
	args := c.Args()
	if len(args) != 2 {
		c.PrintUsage()
		os.Exit(2)
	}
	v, kind, err := c.parseValue(args[1])
	if err != nil {
		glog.Exitf("bad value %q: %v", args[1], err)
	}
	cli := c.connect()
	defer cli.Stop()
	tg, err := cli.Bus().Tag(args[0], kind)
	if err != nil {
		glog.Exitf("%s: %v", args[0], err)
	}
	if waitTagID(cli, args[0], c.timeout()) == 0 {
		glog.Exitf("no id assigned for %s", args[0])
	}
	if err := tg.Set(v); err != nil {
		glog.Exitf("%s: %v", args[0], err)
	}
	// Stop drains the queued SET before closing
}

func (c *cmdSubT) Exec() {
	names := c.Args()
	if len(names) == 0 {
		c.PrintUsage()
		os.Exit(2)
	}
	cli := c.connect()
	defer cli.Stop()
	for _, name := range names {
		tg, err := cli.Bus().Tag(name, proto.KindAny)
		if err != nil {
			glog.Exitf("%s: %v", name, err)
		}
		tg.AddCallback(printTag, 0)
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}

func (c *cmdListT) Exec() {
	pattern := ""
	if args := c.Args(); len(args) > 0 {
		pattern = args[0]
	}
	cli := c.connect()
	defer cli.Stop()
	names, err := cli.List(pattern, 0, c.timeout())
	if err != nil {
		glog.Exitf("list: %v", err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func (c *cmdRtaT) Exec() {
	args := c.Args()
	if len(args) != 2 {
		c.PrintUsage()
		os.Exit(2)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(args[1]), &doc); err != nil {
		glog.Exitf("the request must be a JSON object: %v", err)
	}
	cli := c.connect()
	defer cli.Stop()
	tg, err := cli.Bus().Tag(args[0], proto.KindAny)
	if err != nil {
		glog.Exitf("%s: %v", args[0], err)
	}
	chResp := make(chan proto.Value, 16)
	tg.AddCallback(func(t *tag.Tag) {
		select {
		case chResp <- t.Value():
		default:
		}
	}, 0)
	if waitTagID(cli, args[0], c.timeout()) == 0 {
		glog.Exitf("no id assigned for %s", args[0])
	}
	cookie, err := cli.RTARequest(args[0], doc)
	if err != nil {
		glog.Exitf("rta: %v", err)
	}
	deadline := time.After(c.timeout())
	for {
		select {
		case v := <-chResp:
			if !matchesCookie(v, cookie) {
				continue
			}
			fmt.Println(v.String())
			return
		case <-deadline:
			glog.Exitf("no response for cookie %d", cookie)
		}
	}
}

// matchesCookie accepts both response conventions: __rta_id__ in a
// JSON object, or the first 2 big-endian bytes of a binary payload.
// Cookie 0 broadcasts.
func matchesCookie(v proto.Value, cookie uint16) bool {
	switch v.Kind {
	case proto.KindBytes:
		if len(v.Bytes) < 2 {
			return false
		}
		got := uint16(v.Bytes[0])<<8 | uint16(v.Bytes[1])
		return got == cookie || got == 0
	case proto.KindJSON:
		var doc struct {
			RtaID *uint16 `json:"__rta_id__"`
		}
		if err := v.Document(&doc); err != nil || doc.RtaID == nil {
			return false
		}
		return *doc.RtaID == cookie || *doc.RtaID == 0
	}
	return false
}

func waitTagID(cli *client.Client, name string, timeout time.Duration) uint16 {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if id := cli.TagID(name); id != 0 {
			return id
		}
		time.Sleep(5 * time.Millisecond)
	}
	return 0
}
