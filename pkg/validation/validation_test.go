package validation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, ValidateIdentifier("user-42", "user id"))
	assert.NoError(t, ValidateIdentifier("chain:eu.1", "chain id"))
	assert.Error(t, ValidateIdentifier("  ", "user id"))
	assert.Error(t, ValidateIdentifier("has space", "user id"))
}

func TestValidateChainID_EmptyAllowed(t *testing.T) {
	assert.NoError(t, ValidateChainID(""))
	assert.Error(t, ValidateChainID("bad/chain"))
}

func TestValidateVolume(t *testing.T) {
	assert.NoError(t, ValidateVolume(0))
	assert.NoError(t, ValidateVolume(1))
	assert.Error(t, ValidateVolume(1.01))
	assert.Error(t, ValidateVolume(-0.1))
	assert.Error(t, ValidateVolume(math.NaN()))
}

func TestValidateBitrate(t *testing.T) {
	assert.NoError(t, ValidateBitrate(500))
	assert.Error(t, ValidateBitrate(50))
	assert.Error(t, ValidateBitrate(20000))
}

func TestValidateScreenType(t *testing.T) {
	for _, st := range []string{"screen", "window", "tab"} {
		assert.NoError(t, ValidateScreenType(st))
	}
	assert.Error(t, ValidateScreenType("monitor"))
}

func TestValidateBackground(t *testing.T) {
	assert.NoError(t, ValidateBackground("blur", ""))
	assert.NoError(t, ValidateBackground("image", "https://cdn.example.com/bg.png"))
	assert.Error(t, ValidateBackground("image", "ftp://cdn.example.com/bg.png"))
	assert.Error(t, ValidateBackground("image", ""))
	assert.Error(t, ValidateBackground("sparkles", ""))
}
