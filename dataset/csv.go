// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"bufio"
	"io"
	"strings"

	"github.com/juju/errors"
)

// ReadLines parse fields of each line for csv file.
func ReadLines(sc *bufio.Scanner, sep string, handler func(int, []string) bool) error {
	lineCount := 0               // line number of current position
	fields := make([]string, 0)  // fields for current line
	builder := strings.Builder{} // string builder for current field
	quoted := false              // whether current position in quote
	for sc.Scan() {
		// read line
		lineStr := sc.Text()
		line := []rune(lineStr)
		// start of line
		if quoted {
			builder.WriteString("\r\n")
		}
		// parse line
		for i := 0; i < len(line); i++ {
			if string(line[i]) == sep && !quoted {
				// end of field
				fields = append(fields, builder.String())
				builder.Reset()
			} else if line[i] == '"' {
				if quoted {
					if i+1 >= len(line) || line[i+1] != '"' {
						// end of quoted
						quoted = false
					} else {
						i++
						builder.WriteRune('"')
					}
				} else {
					// start of quoted
					quoted = true
				}
			} else {
				builder.WriteRune(line[i])
			}
		}
		// end of line
		if !quoted {
			fields = append(fields, builder.String())
			builder.Reset()
			if !handler(lineCount, fields) {
				return nil
			}
			fields = []string{}
		}
		// increase line count
		lineCount++
	}
	return sc.Err()
}

// Row is a record of a csv file with a header.
type Row struct {
	Line   int
	header map[string]int
	fields []string
}

// Get returns the field of a column. Missing trailing fields are empty.
func (r *Row) Get(column string) string {
	i, ok := r.header[column]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

// ReadCSV reads a comma separated file whose first line is the header. The required columns
// must be present in the header.
func ReadCSV(r io.Reader, required []string, handler func(row *Row) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var (
		header     map[string]int
		handlerErr error
	)
	err := ReadLines(sc, ",", func(line int, fields []string) bool {
		if header == nil {
			header = make(map[string]int, len(fields))
			for i, name := range fields {
				header[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
			}
			for _, name := range required {
				if _, ok := header[name]; !ok {
					handlerErr = errors.NotFoundf("column %s", name)
					return false
				}
			}
			return true
		}
		if handlerErr = handler(&Row{Line: line, header: header, fields: fields}); handlerErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		return errors.Trace(err)
	}
	if handlerErr != nil {
		return errors.Trace(handlerErr)
	}
	if header == nil {
		return errors.NotValidf("empty csv file")
	}
	return nil
}
