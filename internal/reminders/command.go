package reminders

import (
	"strconv"
	"strings"
)

// Command is a parsed /remind subcommand. The concrete types are
// CreateCommand, ListCommand, DeleteCommand and EditCommand.
type Command interface {
	command()
}

type CreateCommand struct {
	Text string
}

type ListCommand struct{}

// DeleteCommand removes one reminder, or every reminder of the chat when All
// is set.
type DeleteCommand struct {
	ID  int64
	All bool
}

type EditCommand struct {
	ID   int64
	Text string
}

func (CreateCommand) command() {}
func (ListCommand) command()   {}
func (DeleteCommand) command() {}
func (EditCommand) command()   {}

// ParseCommand reads the arguments of /remind. It returns ErrUsage when the
// subcommand is missing, unknown or incomplete and ErrInvalidID when an id is
// not a number.
func ParseCommand(args string) (Command, error) {
	sub, rest := splitWord(args)
	switch strings.ToLower(sub) {
	case "to":
		if rest == "" {
			return nil, ErrUsage
		}
		return CreateCommand{Text: rest}, nil
	case "list":
		return ListCommand{}, nil
	case "delete":
		arg, _ := splitWord(rest)
		if arg == "" {
			return nil, ErrUsage
		}
		if strings.EqualFold(arg, "all") {
			return DeleteCommand{All: true}, nil
		}
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		return DeleteCommand{ID: id}, nil
	case "edit":
		arg, text := splitWord(rest)
		if arg == "" {
			return nil, ErrUsage
		}
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		if text == "" {
			return nil, ErrUsage
		}
		return EditCommand{ID: id, Text: text}, nil
	}
	return nil, ErrUsage
}

func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' })
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
