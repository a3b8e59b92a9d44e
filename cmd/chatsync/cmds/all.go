package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cmds"
)

func build[T cmds.Command](c T, err error) (cmds.Command, error) {
	return c, err
}

// All returns every chatsync subcommand, in the order they are listed in help.
func All() ([]cmds.Command, error) {
	builders := []func() (cmds.Command, error){
		func() (cmds.Command, error) { return build(NewChatCommand()) },
		func() (cmds.Command, error) { return build(NewHistoryCommand()) },
		func() (cmds.Command, error) { return build(NewClearCommand()) },
		func() (cmds.Command, error) { return build(NewHealthCommand()) },
		func() (cmds.Command, error) { return build(NewStatusCommand()) },
		func() (cmds.Command, error) { return build(NewSessionsCommand()) },
		func() (cmds.Command, error) { return build(NewSessionStatsCommand()) },
		func() (cmds.Command, error) { return build(NewToolsCommand()) },
		func() (cmds.Command, error) { return build(NewToolCommand()) },
		func() (cmds.Command, error) { return build(NewToolCategoriesCommand()) },
	}
	out := make([]cmds.Command, 0, len(builders))
	for _, b := range builders {
		c, err := b()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
