package toolchain

import (
	"strings"

	appErr "codegrader/pkg/errors"

	"github.com/google/shlex"
)

// templateVars holds placeholder values. Each value replaces a placeholder
// inside a single argv token, so paths never get re-split.
type templateVars struct {
	src        string
	bin        string
	dir        string
	class      string
	extraFlags []string
}

// buildCommand splits tpl into argv and expands placeholders per token.
// A token equal to {extraFlags} expands into zero or more tokens.
func buildCommand(tpl string, vars templateVars) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	replacer := strings.NewReplacer(
		"{src}", vars.src,
		"{bin}", vars.bin,
		"{dir}", vars.dir,
		"{class}", vars.class,
	)
	argv := make([]string, 0, len(fields)+len(vars.extraFlags))
	for _, field := range fields {
		if field == "{extraFlags}" {
			argv = append(argv, vars.extraFlags...)
			continue
		}
		argv = append(argv, replacer.Replace(field))
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return argv, nil
}
