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

// Package cmd is the little subcommand framework shared by the
// operator tools: register commands, parse shared option spellings,
// dispatch on os.Args[1].
package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"tagbus/pkg/version"
)

var commands = make(map[string]ICommand)

type ICommand interface {
	GetName() string
	GetDesc() string
	GetSynopsis() string
	Init(name string, desc string)
	Parse(args []string) error
	Exec()
	PrintUsage()
}

type Command struct {
	Option
	name     string
	desc     string
	synopsis string
}

func (c *Command) Init(name string, desc string) {
	c.name = name
	c.desc = desc
	c.Option.Init(name)
	c.Option.Usage = c.PrintUsage
}

func (c *Command) GetName() string {
	return c.name
}

func (c *Command) GetDesc() string {
	return c.desc
}

func (c *Command) GetSynopsis() string {
	if c.synopsis == "" {
		return fmt.Sprintf("  %s %s [option]\n", os.Args[0], c.name)
	}
	return c.synopsis
}

func (c *Command) SetSynopsis(str string) {
	c.synopsis = str
}

func (c *Command) Parse(args []string) error {
	return c.Option.Parse(args)
}

func (c *Command) PrintUsage() {
	fmt.Fprintf(os.Stderr, "NAME\n  %s - %s\n\nSYNOPSIS\n%s\nOPTIONS\n%s\n",
		c.name, c.desc, c.GetSynopsis(), c.Option.Desc())
}

func Register(cmd ICommand) {
	commands[cmd.GetName()] = cmd
}

func printCommandList() {
	fmt.Fprintf(os.Stderr, "USAGE\n  %s <command> [option]\n\nCOMMANDS\n", os.Args[0])
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(os.Stderr, 0, 8, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\t%s\n", name, commands[name].GetDesc())
	}
	fmt.Fprintf(w, "  %s\t%s\n", "version", "print version info")
	fmt.Fprintf(w, "  %s\t%s\n", "help", "print this text")
	w.Flush()
}

// Execute dispatches os.Args[1] to its registered command.
func Execute() {
	if len(os.Args) < 2 {
		printCommandList()
		os.Exit(1)
	}
	name := os.Args[1]
	switch name {
	case "version", "-version", "--version":
		version.PrintVersionInfo()
		return
	case "help", "-h", "--help":
		printCommandList()
		return
	}
	c, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printCommandList()
		os.Exit(1)
	}
	if err := c.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}
	c.Exec()
}
