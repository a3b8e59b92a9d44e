package cmds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAll_BuildsEveryCommand(t *testing.T) {
	commands, err := All()
	require.NoError(t, err)

	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.Description().Name)
	}
	require.Equal(t, []string{
		"chat", "history", "clear", "health", "status",
		"sessions", "session-stats", "tools", "tool", "tool-categories",
	}, names)
}
