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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const headerEveryNLines = 20

// FileStatesWriter appends aligned state lines to state.log under the
// given directory, repeating the column header every screenful.
type FileStatesWriter struct {
	log   *StateLog
	out   io.WriteCloser
	lines int
}

func NewFileStatesWriter(log *StateLog, dir string) (*FileStatesWriter, error) {
	f, err := os.OpenFile(filepath.Join(dir, "state.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileStatesWriter{log: log, out: f}, nil
}

// NewStreamStatesWriter writes to an already-open stream, for -stdout
// style runs.
func NewStreamStatesWriter(log *StateLog, w io.Writer) *FileStatesWriter {
	return &FileStatesWriter{log: log, out: nopCloser{w}}
}

func (w *FileStatesWriter) Write(now time.Time) error {
	states := w.log.GetStates()
	var b strings.Builder
	if w.lines%headerEveryNLines == 0 {
		b.WriteString(fmt.Sprintf("%-8s", "time"))
		for _, st := range states {
			b.WriteString(fmt.Sprintf(" %*s", st.Width(), st.Header()))
		}
		b.WriteByte('\n')
	}
	b.WriteString(now.Format("15:04:05"))
	for _, st := range states {
		b.WriteString(fmt.Sprintf(" %*s", st.Width(), st.State()))
	}
	b.WriteByte('\n')
	w.lines++
	_, err := io.WriteString(w.out, b.String())
	return err
}

func (w *FileStatesWriter) Close() error {
	return w.out.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
