package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cloudsecrets/internal/execenv"
)

func TestExecCommand(t *testing.T) {
	t.Parallel()

	sel, path := fileSelector(t)
	seed(t, path, `{"TOKEN":"dDBrM24=","bad-name":"eA=="}`)

	out, err := execute(t, NewExecCommand(quietConfig(), sel), "--prefix", "APP_", "--", "sh", "-c", `printf '%s' "$APP_TOKEN"`)
	require.NoError(t, err)
	assert.Equal(t, "t0k3n", out)
}

func TestExecCommandPropagatesExitCode(t *testing.T) {
	t.Parallel()

	sel, path := fileSelector(t)
	seed(t, path, `{}`)

	_, err := execute(t, NewExecCommand(quietConfig(), sel), "--", "sh", "-c", "exit 7")
	var exitErr *execenv.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.Code)
}

func TestExecCommandMissingBinary(t *testing.T) {
	t.Parallel()

	sel, path := fileSelector(t)
	_, err := execute(t, NewExecCommand(quietConfig(), sel), "--", "no-such-binary-xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoFileExists(t, path, "the store is not opened for a missing command")
}
