package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"hi":     "hi",
		" HI ":   "hi",
		"hi-IN":  "hi",
		"ta_IN":  "ta",
		"":       "",
		"-x":     "-x",
		"en-GB ": "en",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	l, ok := Lookup("bn")
	assert.True(t, ok)
	assert.Equal(t, "Bengali", l.Name)

	_, ok = Lookup("fr")
	assert.False(t, ok)
	assert.False(t, IsSupported(Unknown))
	assert.True(t, IsSupported("pa-IN"))
}

func TestName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Hindi", Name("hi"))
	assert.Equal(t, "English", Name("xx"))
}

func TestAllIsCopy(t *testing.T) {
	t.Parallel()

	all := All()
	assert.Len(t, all, 10)
	all[0].Name = "changed"
	assert.Equal(t, "English", All()[0].Name)
}
