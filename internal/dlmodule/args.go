package dlmodule

import "strings"

// maxArgs bounds how many arguments a command line yields.
const maxArgs = 8

// splitArgs tokenises cmd in place. Arguments are separated by spaces or
// tabs. A double quote opens an argument that runs to the next unescaped
// quote, or to the end of the line when none follows; a backslash inside
// quotes skips the next byte and is kept. Separators and closing quotes
// are overwritten with NUL.
func splitArgs(cmd []byte) []string {
	var argv []string
	n := len(cmd)
	i := 0
	for i < n && len(argv) < maxArgs {
		for i < n && (cmd[i] == ' ' || cmd[i] == '\t') {
			cmd[i] = 0
			i++
		}
		if i >= n {
			break
		}

		if cmd[i] == '"' {
			cmd[i] = 0
			i++
			start := i
			for i < n && cmd[i] != '"' {
				if cmd[i] == '\\' {
					i++
				}
				i++
			}
			if i >= n {
				argv = append(argv, string(cmd[start:n]))
				break
			}
			cmd[i] = 0
			argv = append(argv, string(cmd[start:i]))
			i++
			continue
		}

		start := i
		for i < n && cmd[i] != ' ' && cmd[i] != '\t' {
			i++
		}
		argv = append(argv, string(cmd[start:i]))
	}
	return argv
}

// SplitArgs tokenises a command line the way a module's main thread does.
func SplitArgs(cmdline string) []string {
	return splitArgs([]byte(cmdline))
}

// JoinArgs builds a command line that SplitArgs turns back into args.
// Arguments holding separators or left empty are quoted; embedded quotes
// cannot be represented and end the argument early.
func JoinArgs(args ...string) string {
	var b strings.Builder
	for i, a := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		if a == "" || strings.ContainsAny(a, " \t") {
			b.WriteByte('"')
			b.WriteString(a)
			b.WriteByte('"')
			continue
		}
		b.WriteString(a)
	}
	return b.String()
}
