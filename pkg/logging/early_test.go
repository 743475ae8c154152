package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEarlyLogRoutesByLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	l := &EarlyLog{out: &out, err: &errOut}

	l.Info("loading %s", "config.yaml")
	l.Error("failed to load config: %v", "no such file")

	assert.Contains(t, out.String(), "INFO loading config.yaml")
	assert.Contains(t, errOut.String(), "ERROR failed to load config: no such file")
	assert.NotContains(t, out.String(), "ERROR")
}
