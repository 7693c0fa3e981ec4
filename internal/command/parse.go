package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/drivelink/internal/connection"
)

// Kind is the command form.
type Kind string

const (
	KindGet  Kind = "get"
	KindSet  Kind = "set"
	KindCall Kind = "call"
)

// DeviceName is the canonical reference all aliases normalise to.
const DeviceName = "device"

// aliases are the variable names users copy from vendor tooling.
var aliases = []string{"odrv0", "odrv1", "dev0", "dev1", "my_drive", "odrive"}

// Command is a parsed console line.
type Command struct {
	Kind Kind `json:"kind"`

	// Path is the property path or method name relative to the device,
	// e.g. "axis0.requested_state".
	Path string `json:"path"`

	// Value is the value to write for KindSet.
	Value any `json:"value,omitempty"`

	// Args are the call arguments for KindCall.
	Args []any `json:"args,omitempty"`

	// Skip is set for writes whose value is none, null or undefined.
	Skip bool `json:"skip,omitempty"`

	// Raw is the line as typed.
	Raw string `json:"raw"`
}

// Protected reports whether the command is save, reboot or erase.
func (c Command) Protected() bool {
	if c.Kind != KindCall {
		return false
	}
	_, ok := connection.OperationForMethod(c.Path)
	return ok
}

// String renders the command in normalised form.
func (c Command) String() string {
	switch c.Kind {
	case KindSet:
		return fmt.Sprintf("%s.%s = %v", DeviceName, c.Path, c.Value)
	case KindCall:
		args := make([]string, len(c.Args))
		for i, a := range c.Args {
			args[i] = fmt.Sprint(a)
		}
		return fmt.Sprintf("%s.%s(%s)", DeviceName, c.Path, strings.Join(args, ", "))
	default:
		return DeviceName + "." + c.Path
	}
}

// Normalize replaces a leading device alias with "device".
func Normalize(line string) string {
	for _, alias := range aliases {
		if strings.HasPrefix(line, alias+".") {
			return DeviceName + "." + strings.TrimPrefix(line, alias+".")
		}
		if line == alias {
			return DeviceName
		}
	}
	return line
}

// Parse interprets one console line.
func Parse(line string) (Command, error) {
	raw := line
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, ErrEmpty
	}
	line = Normalize(line)

	if lhs, rhs, ok := splitAssignment(line); ok {
		path, err := devicePath(lhs)
		if err != nil {
			return Command{}, err
		}
		cmd := Command{Kind: KindSet, Path: path, Raw: raw}
		if isNullLiteral(rhs) {
			cmd.Skip = true
			return cmd, nil
		}
		if rhs == "" {
			return Command{}, fmt.Errorf("%w: missing value in %q", ErrSyntax, raw)
		}
		cmd.Value = ParseValue(rhs)
		return cmd, nil
	}

	if open := strings.IndexByte(line, '('); open >= 0 {
		if !strings.HasSuffix(line, ")") {
			return Command{}, fmt.Errorf("%w: unbalanced parentheses in %q", ErrSyntax, raw)
		}
		path, err := devicePath(line[:open])
		if err != nil {
			return Command{}, err
		}
		args, err := parseArgs(line[open+1 : len(line)-1])
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q: %w", ErrSyntax, raw, err)
		}
		return Command{Kind: KindCall, Path: path, Args: args, Raw: raw}, nil
	}

	path, err := devicePath(line)
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: KindGet, Path: path, Raw: raw}, nil
}

// splitAssignment splits "a = b" at the first '=' outside quotes.
// Comparisons such as "==" are not assignments.
func splitAssignment(line string) (string, string, bool) {
	var quote rune
	for i, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(':
			return "", "", false
		case r == '=':
			if strings.HasPrefix(line[i:], "==") || (i > 0 && strings.ContainsRune("!<>", rune(line[i-1]))) {
				return "", "", false
			}
			return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
		}
	}
	return "", "", false
}

// devicePath strips the device prefix and validates what remains.
func devicePath(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == DeviceName {
		return "", fmt.Errorf("%w: a property or method of %s is required", ErrSyntax, DeviceName)
	}
	s = strings.TrimPrefix(s, DeviceName+".")
	if err := connection.ValidatePath(s); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	return s, nil
}

func parseArgs(s string) ([]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var (
		args  []any
		start int
		quote rune
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(' || r == ')':
			return nil, fmt.Errorf("nested expression at offset %d", i)
		case r == ',':
			arg := strings.TrimSpace(s[start:i])
			if arg == "" {
				return nil, fmt.Errorf("empty argument at position %d", len(args))
			}
			args = append(args, ParseValue(arg))
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated string")
	}
	last := strings.TrimSpace(s[start:])
	if last == "" {
		return nil, fmt.Errorf("empty argument at position %d", len(args))
	}
	return append(args, ParseValue(last)), nil
}

func isNullLiteral(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "null", "undefined":
		return true
	}
	return false
}

// ParseValue converts a literal to bool, int, float64 or string.
// Quoted literals are always strings.
func ParseValue(s string) any {
	s = strings.TrimSpace(s)

	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}

	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
