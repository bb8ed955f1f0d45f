package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, "tablepulse", info.Name)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, "tablepulse dev (unknown)", info.String())
}
