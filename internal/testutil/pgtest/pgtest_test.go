package pgtest

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaName(t *testing.T) {
	name := schemaName("TestRows/Export With Spaces")
	assert.Regexp(t, regexp.MustCompile(`^t_testrows_export_with_spaces_\d+$`), name)

	long := schemaName(strings.Repeat("x", 100))
	assert.LessOrEqual(t, len(long), 2+40+1+9)
}
