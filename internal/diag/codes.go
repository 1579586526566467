package diag

import "fmt"

type Code uint16

const (
	UnknownCode Code = 0

	// Core engine checks
	CoreInfo           Code = 1000
	CoreLineTooLong    Code = 1001
	CoreTrailingSpace  Code = 1002
	CoreMixedIndent    Code = 1003
	CoreUnbalanced     Code = 1004
	CoreMissingNewline Code = 1005

	// External linter checks
	LintInfo          Code = 2000
	LintTodoOwner     Code = 2001
	LintDoubleBlank   Code = 2002

	// Host
	HostInfo          Code = 9000
	HostListenerFault Code = 9001
)

var codeDescription = map[Code]string{
	UnknownCode:        "Unknown error",
	CoreInfo:           "Core analysis information",
	CoreLineTooLong:    "Line too long",
	CoreTrailingSpace:  "Trailing whitespace",
	CoreMixedIndent:    "Mixed tabs and spaces in indentation",
	CoreUnbalanced:     "Unbalanced delimiter",
	CoreMissingNewline: "Missing newline at end of file",
	LintInfo:           "Lint information",
	LintTodoOwner:      "TODO without owner",
	LintDoubleBlank:    "Consecutive blank lines",
	HostInfo:           "Host information",
	HostListenerFault:  "Listener failure",
}

// ID returns the stable textual id, e.g. "QL1001" or "LNT2001".
func (c Code) ID() string {
	switch {
	case c >= 1000 && c < 2000:
		return fmt.Sprintf("QL%04d", uint16(c))
	case c >= 2000 && c < 3000:
		return fmt.Sprintf("LNT%04d", uint16(c))
	case c >= 9000:
		return fmt.Sprintf("HOST%04d", uint16(c))
	}
	return fmt.Sprintf("E%04d", uint16(c))
}

func (c Code) String() string {
	if desc, ok := codeDescription[c]; ok {
		return desc
	}
	return codeDescription[UnknownCode]
}
