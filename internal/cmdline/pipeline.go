package cmdline

import (
	"fmt"
	"strings"

	"github.com/lvonguyen/cloudgate/internal/cloud"
)

// utilityAllowlist is the closed set of text utilities permitted after the
// provider stage of a pipeline.
var utilityAllowlist = map[string]bool{
	"grep": true,
	"head": true,
	"tail": true,
	"cut":  true,
	"awk":  true,
	"sort": true,
	"uniq": true,
	"wc":   true,
	"sed":  true,
}

// Stage is one command in a pipe-separated sequence. Stage 0 is the provider
// stage; later stages are text utilities.
type Stage struct {
	Raw  string
	Argv []string
}

// Split divides a command on pipe characters that sit outside single or
// double quotes. A doubled `||` fails the split; other control operators are
// left in the parts for Tokenize to reject.
func Split(command string) ([]string, error) {
	var (
		parts   []string
		current []rune
		quote   rune
	)
	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			current = append(current, c)
		case c == '\'' || c == '"':
			quote = c
			current = append(current, c)
		case c == '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				return nil, fmt.Errorf("%w: %q", ErrMetacharacter, "||")
			}
			parts = append(parts, string(current))
			current = current[:0]
		default:
			current = append(current, c)
		}
	}
	if quote != 0 {
		return nil, ErrUnbalancedQuotes
	}
	parts = append(parts, string(current))
	return parts, nil
}

// Parse splits a command into pipeline stages and tokenizes each one.
func Parse(command string) ([]Stage, error) {
	parts, err := Split(command)
	if err != nil {
		return nil, err
	}

	stages := make([]Stage, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		argv, err := Tokenize(part)
		if err != nil {
			if err == ErrEmptyCommand {
				return nil, fmt.Errorf("%w: stage %d", ErrEmptyStage, i)
			}
			return nil, err
		}
		stages = append(stages, Stage{Raw: part, Argv: argv})
	}
	return stages, nil
}

// Validate enforces the pipeline contract: stage 0 must begin with one of the
// provider's binaries, and every later stage must begin with an allow-listed
// text utility.
func Validate(provider *cloud.Provider, stages []Stage) error {
	if len(stages) == 0 {
		return ErrEmptyCommand
	}
	if !provider.HasPrefix(stages[0].Argv[0]) {
		return fmt.Errorf("%w: got %q", ErrBadPrefix, stages[0].Argv[0])
	}
	for _, st := range stages[1:] {
		if !utilityAllowlist[st.Argv[0]] {
			return fmt.Errorf("%w: %q", ErrUtilityNotAllowed, st.Argv[0])
		}
	}
	return nil
}
