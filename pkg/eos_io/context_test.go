package eos_io

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_err"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewContextAndEnd(t *testing.T) {
	rc := NewContext(context.Background(), "sync")
	require.NotNil(t, rc.Ctx)
	require.NotNil(t, rc.Log)
	assert.Equal(t, "sync", rc.Command)
	assert.Equal(t, "eos_io", rc.Component)

	rc.Attributes["connection_id"] = "3"
	err := errors.New("manager unreachable")
	assert.NotPanics(t, func() { rc.End(&err) })
	assert.NotPanics(t, func() { rc.End(nil) })
}

func TestHandlePanic(t *testing.T) {
	rc := NewContext(context.Background(), "panic-test")

	run := func() (err error) {
		defer rc.HandlePanic(&err)
		panic("bad row")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad row")
	assert.Equal(t, eos_err.CategoryInternal, eos_err.CategoryOf(err))
	assert.Equal(t, 3, eos_err.GetExitCode(err))
}

type yamlConn struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func TestEncodeYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeYAML(&buf, []yamlConn{{Name: "prod", Port: 55000}}))
	assert.Contains(t, buf.String(), "- name: prod\n  port: 55000")

	var out []yamlConn
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, []yamlConn{{Name: "prod", Port: 55000}}, out)
}
