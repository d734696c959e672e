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

// Package service runs a daemon's units in order and tears them down
// in reverse on SIGINT/SIGTERM.
package service

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/golang/glog"
)

// IUnit is one startable part of the daemon: the bus server, the
// state log, the HTTP monitor.
type IUnit interface {
	Name() string
	Start() error
	Stop()
}

type Config struct {
	PidFileName string
}

type Service struct {
	cfg        Config
	units      []IUnit
	chDone     chan struct{}
	inShutdown int32
	started    int
}

func New(cfg Config, units ...IUnit) *Service {
	return &Service{
		cfg:    cfg,
		units:  units,
		chDone: make(chan struct{}),
	}
}

// Run starts every unit in order and blocks until Shutdown or a
// termination signal, then stops the started units in reverse.
func (s *Service) Run() error {
	s.initSignalHandler()
	if err := s.writePidFile(); err != nil {
		return err
	}
	defer s.removePidFile()

	for _, u := range s.units {
		if err := u.Start(); err != nil {
			s.stopStarted()
			return fmt.Errorf("starting %s: %w", u.Name(), err)
		}
		glog.Infof("%s started", u.Name())
		s.started++
	}

	<-s.chDone
	s.stopStarted()
	return nil
}

func (s *Service) stopStarted() {
	for i := s.started - 1; i >= 0; i-- {
		glog.Infof("stopping %s", s.units[i].Name())
		s.units[i].Stop()
	}
	s.started = 0
}

func (s *Service) shuttingDown() bool {
	return atomic.LoadInt32(&s.inShutdown) != 0
}

func (s *Service) Shutdown() {
	if atomic.CompareAndSwapInt32(&s.inShutdown, 0, 1) {
		close(s.chDone)
	}
}

func (s *Service) initSignalHandler() {
	signal.Ignore(syscall.SIGPIPE, syscall.SIGURG)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		glog.Infof("signal %d (%s) received", sig, sig)
		s.Shutdown()
	}()
}

func (s *Service) writePidFile() error {
	if s.cfg.PidFileName == "" {
		return nil
	}
	return os.WriteFile(s.cfg.PidFileName,
		[]byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func (s *Service) removePidFile() {
	if s.cfg.PidFileName == "" {
		return
	}
	if err := os.Remove(s.cfg.PidFileName); err != nil {
		glog.Warningf("removing pid file: %v", err)
	}
}

// UnitFuncs adapts plain start/stop funcs to an IUnit.
type UnitFuncs struct {
	UnitName  string
	StartFunc func() error
	StopFunc  func()
}

func (u *UnitFuncs) Name() string {
	return u.UnitName
}

func (u *UnitFuncs) Start() error {
	if u.StartFunc != nil {
		return u.StartFunc()
	}
	return nil
}

func (u *UnitFuncs) Stop() {
	if u.StopFunc != nil {
		u.StopFunc()
	}
}
