package meadow

import (
	"fmt"
	"strings"
)

// CommandName identifies a supported subscription command.
type CommandName string

const (
	// CommandSubscribe registers interest in a keyword/phrase.
	CommandSubscribe CommandName = "subscribe"
	// CommandUnsubscribe removes one pattern, or every pattern when bare.
	CommandUnsubscribe CommandName = "unsubscribe"
	// CommandSubscriptions lists the caller's current patterns.
	CommandSubscriptions CommandName = "subscriptions"
)

const scopeOptionToken = "--in"

// ParsedCommand is one recognized command invocation.
type ParsedCommand struct {
	// Name is the normalized command name without prefix and mention suffix.
	Name CommandName
	// Mention is the optional mention suffix from `/<name>@<mention>`.
	Mention string
	// Request carries the pattern and scope extracted from the command tail.
	Request CommandRequest
}

// ParseCommand parses message text into a subscription command.
//
// matched is false when text is not a command or names a command this service
// does not own. When matched is true, err reports syntax problems such as a
// missing pattern for subscribe or a dangling scope option.
func ParseCommand(text string) (parsed ParsedCommand, matched bool, err error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ParsedCommand{}, false, nil
	}
	header := fields[0]
	if !strings.HasPrefix(header, "/") || len(header) == 1 {
		return ParsedCommand{}, false, nil
	}

	name, mention := splitCommandHeader(header[1:])
	switch CommandName(strings.ToLower(name)) {
	case CommandSubscribe:
		parsed.Name = CommandSubscribe
	case CommandUnsubscribe:
		parsed.Name = CommandUnsubscribe
	case CommandSubscriptions:
		parsed.Name = CommandSubscriptions
	default:
		return ParsedCommand{}, false, nil
	}
	parsed.Mention = mention

	pattern, scope, err := parseCommandTail(fields[1:])
	if err != nil {
		return parsed, true, fmt.Errorf("parse command %s: %w", parsed.Name, err)
	}
	parsed.Request = CommandRequest{Pattern: pattern, ScopeID: scope}

	switch parsed.Name {
	case CommandSubscribe:
		if pattern == "" {
			return parsed, true, fmt.Errorf("parse command %s: missing pattern", parsed.Name)
		}
	case CommandSubscriptions:
		if pattern != "" || scope != "" {
			return parsed, true, fmt.Errorf("parse command %s: unexpected arguments", parsed.Name)
		}
	case CommandUnsubscribe:
		if scope != "" {
			return parsed, true, fmt.Errorf("parse command %s: scope option not supported", parsed.Name)
		}
	}

	return parsed, true, nil
}

// parseCommandTail splits tail tokens into a space-joined pattern and an
// optional `--in <scope>` option. Patterns are phrases, so every non-option
// token belongs to the pattern.
func parseCommandTail(tokens []string) (pattern, scope string, err error) {
	patternTokens := make([]string, 0, len(tokens))
	for index := 0; index < len(tokens); index++ {
		token := tokens[index]
		if token != scopeOptionToken {
			patternTokens = append(patternTokens, token)
			continue
		}
		if scope != "" {
			return "", "", fmt.Errorf("duplicate %s option", scopeOptionToken)
		}
		if index+1 >= len(tokens) {
			return "", "", fmt.Errorf("option %s requires a value", scopeOptionToken)
		}
		scope = tokens[index+1]
		index++
	}

	return strings.Join(patternTokens, " "), scope, nil
}

func splitCommandHeader(header string) (name, mention string) {
	separator := strings.Index(header, "@")
	if separator < 0 {
		return header, ""
	}

	return header[:separator], header[separator+1:]
}
