// File: conf/conf_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package conf_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/conf"
)

const sample = `; global comment
top = level

[Server]
Host = 0.0.0.0
port = 8080        ; inline comment
workers: 4
reuse_port = yes
timeout = 2.5
mask = 0x1f

[peers]
ip_list = 192.168.1.1
 192.168.1.2
 192.168.1.3
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseAndGet(t *testing.T) {
	c := conf.New()
	require.NoError(t, c.Parse(writeSample(t, sample)))

	assert.Equal(t, "level", c.Get("", "top", ""))
	assert.Equal(t, "0.0.0.0", c.Get("server", "host", ""))
	assert.Equal(t, "8080", c.Get("Server", "Port", ""), "lookup is case-insensitive")
	assert.Equal(t, "fallback", c.Get("server", "missing", "fallback"))
}

func TestTypedGetters(t *testing.T) {
	c := conf.New()
	require.NoError(t, c.Parse(writeSample(t, sample)))

	assert.EqualValues(t, 8080, c.GetInteger("server", "port", 0))
	assert.EqualValues(t, 4, c.GetInteger("server", "workers", 0), "colon separator")
	assert.EqualValues(t, 0x1f, c.GetInteger("server", "mask", 0), "hex literal")
	assert.EqualValues(t, 99, c.GetInteger("server", "host", 99), "unparsable falls back")
	assert.Equal(t, 2.5, c.GetReal("server", "timeout", 0))
	assert.True(t, c.GetBoolean("server", "reuse_port", false))
	assert.False(t, c.GetBoolean("server", "missing", false))
}

func TestContinuationLines(t *testing.T) {
	c := conf.New()
	require.NoError(t, c.Parse(writeSample(t, sample)))

	ips := c.GetStrings("peers", "ip_list")
	require.Len(t, ips, 3)
	assert.Equal(t, []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"}, ips)
	assert.Equal(t, "192.168.1.3", c.Get("peers", "ip_list", ""), "Get returns the last value")
}

func TestParseErrors(t *testing.T) {
	c := conf.New()
	assert.Error(t, c.Parse(filepath.Join(t.TempDir(), "absent.ini")))
	assert.Error(t, c.Parse(writeSample(t, "[unterminated\n")))
	assert.Error(t, c.Parse(writeSample(t, "no separator here\n")))
	assert.Error(t, c.Parse(writeSample(t, " orphan continuation\n")))
}
