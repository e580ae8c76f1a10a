package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentDefaults(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	Version, Commit = "  ", ""
	info := Current()
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.Commit)
	assert.Equal(t, "admindash/dev", UserAgent())

	Version = "1.4.0"
	assert.Equal(t, "admindash/1.4.0", UserAgent())
}
