package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRandByteArray(t *testing.T) {
	for _, n := range []int{0, 12, 32} {
		assert.Len(t, GenerateRandByteArray(n), n)
	}

	a, b := GenerateRandByteArray(32), GenerateRandByteArray(32)
	assert.False(t, bytes.Equal(a, b), "two 32-byte secrets must differ")
}

func TestWipeByteArray(t *testing.T) {
	password := []byte("correct horse battery staple")
	WipeByteArray(password)
	assert.Equal(t, make([]byte, len(password)), password)

	assert.NotPanics(t, func() { WipeByteArray(nil) })
}
