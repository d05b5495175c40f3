package supervisor

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/mattn/go-shellwords"
)

// ErrEmptyCommand is returned when an instance has no launch command.
var ErrEmptyCommand = errors.New("empty launch command")

// ParseCommand splits a launch command on its first whitespace into the
// executable and the argument string, then tokenizes the argument string
// with shell quoting rules. No shell is involved: variables, globs and
// operators are not interpreted.
func ParseCommand(line string) (string, []string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, ErrEmptyCommand
	}

	name, rest := line, ""
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		name, rest = line[:i], line[i+1:]
	}

	args, err := shellwords.Parse(rest)
	if err != nil {
		return "", nil, fmt.Errorf("parse arguments %q: %w", rest, err)
	}
	return name, args, nil
}
