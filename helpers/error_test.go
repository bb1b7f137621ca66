package helpers

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()
	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))

	single := errors.NotValidf("port=0")
	err := FoldErrors([]error{nil, single})
	assert.True(t, errors.IsNotValid(err))
	assert.Equal(t, single, err)

	err = FoldErrors([]error{errors.New("first"), nil, errors.New("second")})
	require.Error(t, err)
	assert.Equal(t, "first\nsecond", err.Error())
}
