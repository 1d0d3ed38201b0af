package domain_test

import (
	"testing"

	"github.com/aretw0/graft/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestValidateAliasName(t *testing.T) {
	valid := []string{"demo", "runs/demo", "a/b/c", "v1.2", "sample_01"}
	for _, name := range valid {
		assert.NoError(t, domain.ValidateAliasName(name), name)
	}

	invalid := []string{"", "/rooted", "trailing/", "..", "../up", "a/../b", "a//b", "a/./b", `back\slash`}
	for _, name := range invalid {
		assert.Error(t, domain.ValidateAliasName(name), name)
	}
}
