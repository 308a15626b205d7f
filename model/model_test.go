package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("ussd")
	assert.True(t, strings.HasPrefix(id, "ussd_"))
	assert.Len(t, id, len("ussd_")+36)
}
