package orchestrator

import "strings"

const trailingSpace = " \t\n\r\v\f"

// OutputMatches compares program output to the expected output. Trailing
// whitespace at the very end is ignored; everything else must match exactly.
func OutputMatches(actual, expected string) bool {
	return strings.TrimRight(actual, trailingSpace) == strings.TrimRight(expected, trailingSpace)
}
