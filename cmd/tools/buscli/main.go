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

// buscli is the operator tool for poking a live tag bus.
package main

import (
	"tagbus/pkg/cmd"
)

func main() {
	var (
		cmdGet  cmdGetT
		cmdSet  cmdSetT
		cmdSub  cmdSubT
		cmdList cmdListT
		cmdRta  cmdRtaT
	)
	cmdGet.Init("get", "print the current value of the given tags")
	cmdSet.Init("set", "publish one value: set <tag> <value>")
	cmdSub.Init("sub", "subscribe and stream updates until interrupted")
	cmdList.Init("list", "list tag names, optionally matching a pattern")
	cmdRta.Init("rta", "send a request to the tag author: rta <tag> <json>")

	cmd.Register(&cmdGet)
	cmd.Register(&cmdSet)
	cmd.Register(&cmdSub)
	cmd.Register(&cmdList)
	cmd.Register(&cmdRta)

	cmd.Execute()
}
