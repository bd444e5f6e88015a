// File: conf/conf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package conf reads INI-style configuration: [section] headers, key=value or
// key:value pairs, ';' and '#' comments, and continuation lines (indented
// lines append to the previous key's value list). Section and key lookup is
// case-insensitive. A Conf is safe for concurrent reads after Parse returns.
package conf

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Conf holds parsed configuration values keyed by "section.name" lowercased.
type Conf struct {
	fileName string
	values   map[string][]string
}

// New returns an empty configuration.
func New() *Conf {
	return &Conf{values: make(map[string][]string)}
}

// Parse reads and parses fileName, replacing any previously parsed content.
// A syntax error reports its 1-based line number.
func (c *Conf) Parse(fileName string) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	c.fileName = fileName
	c.values = make(map[string][]string)

	var section, lastKey string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 16*1024), 16*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		switch {
		case line == "" || line[0] == ';' || line[0] == '#':
			continue
		case line[0] == '[':
			end := strings.IndexByte(line, ']')
			if end < 0 {
				return fmt.Errorf("conf: %s:%d: unterminated section header", fileName, lineNo)
			}
			section = strings.TrimSpace(line[1:end])
			lastKey = ""
		case raw[0] == ' ' || raw[0] == '\t':
			// continuation: another value for the previous key
			if lastKey == "" {
				return fmt.Errorf("conf: %s:%d: continuation line without a key", fileName, lineNo)
			}
			k := makeKey(section, lastKey)
			c.values[k] = append(c.values[k], line)
		default:
			sep := strings.IndexAny(line, "=:")
			if sep < 0 {
				return fmt.Errorf("conf: %s:%d: expected key=value", fileName, lineNo)
			}
			key := strings.TrimSpace(line[:sep])
			val := stripComment(strings.TrimSpace(line[sep+1:]))
			k := makeKey(section, key)
			c.values[k] = append(c.values[k], val)
			lastKey = key
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("conf: read %s: %w", fileName, err)
	}
	return nil
}

// Get returns the value for section/name, or defaultValue when absent. A key
// with continuation lines returns the last value.
func (c *Conf) Get(section, name, defaultValue string) string {
	vs, ok := c.values[makeKey(section, name)]
	if !ok || len(vs) == 0 {
		return defaultValue
	}
	return vs[len(vs)-1]
}

// GetStrings returns every value recorded for section/name, continuation
// lines included, or nil when absent.
func (c *Conf) GetStrings(section, name string) []string {
	return c.values[makeKey(section, name)]
}

// GetInteger parses the value as an integer; base is inferred so "0x1f"
// works. Returns defaultValue when absent or unparsable.
func (c *Conf) GetInteger(section, name string, defaultValue int64) int64 {
	v := c.Get(section, name, "")
	n, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetReal parses the value as a float, scientific notation included. Returns
// defaultValue when absent or unparsable.
func (c *Conf) GetReal(section, name string, defaultValue float64) float64 {
	v := c.Get(section, name, "")
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetBoolean interprets true/yes/on/1 and false/no/off/0, case-insensitive.
// Returns defaultValue for anything else.
func (c *Conf) GetBoolean(section, name string, defaultValue bool) bool {
	switch strings.ToLower(c.Get(section, name, "")) {
	case "true", "yes", "on", "1":
		return true
	case "false", "no", "off", "0":
		return false
	}
	return defaultValue
}

func makeKey(section, name string) string {
	return strings.ToLower(section + "." + name)
}

// stripComment drops a trailing ';' or '#' comment and everything after the
// first whitespace run inside the value.
func stripComment(v string) string {
	if i := strings.IndexAny(v, ";#"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	if i := strings.IndexAny(v, " \t"); i >= 0 {
		v = v[:i]
	}
	return v
}
