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

package stats

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"

	"tagbus/pkg/server"
	"tagbus/pkg/version"
)

var indexTmpl = template.Must(template.New("index").Parse(`<html>
<head><title>{{.Title}}</title></head>
<body>
<h2>{{.Title}}</h2>
<table title="server-info">
<tr><th>Start Time</th><th>Process ID</th><th>Listen</th></tr>
<tr><td>{{.StartTime}}</td><td>{{.Pid}}</td><td>{{.Listen}}</td></tr>
</table>
<ul>
<li><a href="/stats">stats</a></li>
<li><a href="/stats.json">stats.json</a></li>
<li><a href="/version">version</a></li>
</ul>
</body>
</html>
`))

// HttpMonitor serves the bus server's counters over HTTP for
// operators and scrapers.
type HttpMonitor struct {
	srv      *server.Server
	hs       *http.Server
	lis      net.Listener
	started  time.Time
	statelog *StateLog
}

func NewHttpMonitor(addr string, srv *server.Server, statelog *StateLog) (*HttpMonitor, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("http monitor: %w", err)
	}
	m := &HttpMonitor{
		srv:      srv,
		lis:      lis,
		started:  time.Now(),
		statelog: statelog,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleIndex)
	mux.HandleFunc("/stats", m.handleStatsText)
	mux.HandleFunc("/stats.json", m.handleStatsJSON)
	mux.HandleFunc("/version", version.HttpHandler)
	m.hs = &http.Server{Handler: mux}
	return m, nil
}

func (m *HttpMonitor) Addr() string {
	return m.lis.Addr().String()
}

func (m *HttpMonitor) Start() {
	go func() {
		if err := m.hs.Serve(m.lis); err != nil && err != http.ErrServerClosed {
			glog.Errorf("http monitor: %v", err)
		}
	}()
}

func (m *HttpMonitor) Stop() {
	m.hs.Close()
}

func (m *HttpMonitor) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	indexTmpl.Execute(w, struct {
		Title     string
		StartTime string
		Pid       int
		Listen    string
	}{
		Title:     "tagbus server",
		StartTime: m.started.Format("2006-01-02 15:04:05"),
		Pid:       os.Getpid(),
		Listen:    m.srv.Addr(),
	})
}

func (m *HttpMonitor) snapshot() map[string]uint64 {
	c := m.srv.CountersRef()
	return map[string]uint64{
		"accepted":    c.Accepted.Get(),
		"active":      c.Active.Get(),
		"tags":        c.Tags.Get(),
		"sets":        c.Sets.Get(),
		"fanout":      c.Fanout.Get(),
		"stale_drops": c.StaleDrops.Get(),
		"gets":        c.Gets.Get(),
		"subs":        c.Subs.Get(),
		"rtas":        c.RTAs.Get(),
		"lists":       c.Lists.Get(),
		"errs":        c.Errs.Get(),
	}
}

func (m *HttpMonitor) handleStatsText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	snap := m.snapshot()
	for _, k := range []string{"active", "tags", "accepted", "sets", "fanout",
		"gets", "subs", "rtas", "lists", "stale_drops", "errs"} {
		fmt.Fprintf(w, "%-12s %d\n", k, snap[k])
	}
}

func (m *HttpMonitor) handleStatsJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.snapshot())
}
