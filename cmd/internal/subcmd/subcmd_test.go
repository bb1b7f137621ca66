package subcmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, []string) error { return nil }
	mods := []Mod{{Name: "crc", Main: noop}, {Name: "parse", Usage: "HEX", Main: noop}}

	m, err := Parse("parse", mods)
	require.NoError(t, err)
	assert.Equal(t, "parse", m.Name)

	_, err = Parse("", mods)
	assert.EqualError(t, err, "empty command")
	_, err = Parse("nope", mods)
	assert.EqualError(t, err, "unknown command='nope'")

	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{}}) })

	cs := Commands(mods)
	require.Len(t, cs, 2)
	assert.Equal(t, "HEX", cs[1].Usage)
}
