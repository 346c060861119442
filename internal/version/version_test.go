package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgentCarriesVersion(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "1.4.0"
	assert.Equal(t, "ratewatch/1.4.0", UserAgent())
	assert.Contains(t, String(), "version: 1.4.0\n")
}
