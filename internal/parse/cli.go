package parse

import (
	"strconv"
	"strings"
)

// CLI parses the "aoe ..." command form. It returns nil when the text is
// not a CLI invocation, and a UsageError when it is one but the arguments
// are malformed.
func CLI(text string) (*Command, error) {
	raw := strings.TrimSpace(text)
	if raw == "" || strings.HasPrefix(raw, "/") {
		return nil, nil
	}

	parts, err := Tokenize(raw)
	if err != nil {
		return nil, usagef("invalid CLI format: %s", err)
	}
	if len(parts) == 0 {
		return nil, nil
	}

	first := strings.ToLower(strings.TrimSpace(parts[0]))
	if first == "aoe" || first == "orch" || first == "aoe-orch" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return &Command{Cmd: "help"}, nil
	}

	cmd := strings.ToLower(strings.TrimSpace(parts[0]))
	argv := parts[1:]

	switch cmd {
	case "help", "status":
		return &Command{Cmd: cmd}, nil

	case "acl", "auth", "permissions":
		if len(argv) > 0 {
			return nil, usagef("usage: aoe acl")
		}
		return &Command{Cmd: "acl"}, nil

	case "mode", "inbox", "on", "off":
		if len(argv) > 1 {
			return nil, usagef("usage: aoe mode [on|off|direct|dispatch]")
		}
		token := ""
		switch {
		case (cmd == "inbox" || cmd == "on") && len(argv) == 0:
			token = "dispatch"
		case cmd == "off" && len(argv) == 0:
			token = "off"
		case len(argv) == 1:
			token = argv[0]
		}
		normalized := NormalizeModeToken(token)
		if normalized == "" {
			return nil, usagef("usage: aoe mode [on|off|direct|dispatch]")
		}
		return &Command{Cmd: "mode", Mode: normalized}, nil

	case "ok", "confirm":
		if len(argv) > 0 {
			return nil, usagef("usage: aoe ok")
		}
		return &Command{Cmd: "confirm-run"}, nil

	case "grant":
		if len(argv) != 2 {
			return nil, usagef("usage: aoe grant <allow|admin|readonly> <chat_id|alias>")
		}
		scope := NormalizeScope(argv[0])
		chatRef := strings.TrimSpace(argv[1])
		if (scope != "allow" && scope != "admin" && scope != "readonly") || !IsValidChatRef(chatRef) {
			return nil, usagef("usage: aoe grant <allow|admin|readonly> <chat_id|alias>")
		}
		return &Command{Cmd: "grant", Scope: scope, ChatRef: chatRef}, nil

	case "revoke":
		if len(argv) != 2 {
			return nil, usagef("usage: aoe revoke <allow|admin|readonly|all> <chat_id|alias>")
		}
		scope := NormalizeScope(argv[0])
		chatRef := strings.TrimSpace(argv[1])
		if scope == "" || !IsValidChatRef(chatRef) {
			return nil, usagef("usage: aoe revoke <allow|admin|readonly|all> <chat_id|alias>")
		}
		return &Command{Cmd: "revoke", Scope: scope, ChatRef: chatRef}, nil

	case "kpi", "metrics":
		hours := 0
		switch {
		case len(argv) == 1:
			if !isDigits(argv[0]) {
				return nil, usagef("usage: aoe kpi [hours]")
			}
			n, _ := strconv.Atoi(argv[0])
			hours = clampRange(n, 1, 168)
		case len(argv) > 1:
			return nil, usagef("usage: aoe kpi [hours]")
		}
		return &Command{Cmd: "orch-kpi", Hours: hours}, nil

	case "monitor", "tasks", "task-list":
		limit := 0
		switch {
		case len(argv) == 1:
			if !isDigits(argv[0]) {
				return nil, usagef("usage: aoe monitor [limit]")
			}
			n, _ := strconv.Atoi(argv[0])
			limit = clampRange(n, 1, 50)
		case len(argv) > 1:
			return nil, usagef("usage: aoe monitor [limit]")
		}
		return &Command{Cmd: "orch-monitor", Limit: limit}, nil

	case "pick", "select":
		if len(argv) != 1 {
			return nil, usagef("usage: aoe pick <number|request_or_alias>")
		}
		return &Command{Cmd: "orch-pick", RequestID: strings.TrimSpace(argv[0])}, nil

	case "cancel":
		switch len(argv) {
		case 0:
			return &Command{Cmd: "cancel-pending"}, nil
		case 1:
			return &Command{Cmd: "orch-cancel", RequestID: strings.TrimSpace(argv[0])}, nil
		}
		return nil, usagef("usage: aoe cancel [<request_or_alias>]")

	case "retry":
		if len(argv) != 1 {
			return nil, usagef("usage: aoe retry <request_or_alias>")
		}
		return &Command{Cmd: "orch-retry", RequestID: strings.TrimSpace(argv[0])}, nil

	case "replan":
		if len(argv) != 1 {
			return nil, usagef("usage: aoe replan <request_or_alias>")
		}
		return &Command{Cmd: "orch-replan", RequestID: strings.TrimSpace(argv[0])}, nil

	case "request":
		if len(argv) != 1 {
			return nil, usagef("usage: aoe request <request_or_alias>")
		}
		return &Command{Cmd: "request", RequestID: strings.TrimSpace(argv[0])}, nil

	case "run":
		return parseRunArgs(argv)

	case "add-role", "addrole":
		return parseAddRoleArgs(argv)

	case "role":
		if len(argv) == 0 || strings.ToLower(strings.TrimSpace(argv[0])) != "add" {
			return nil, usagef("usage: aoe role add <Role> [options]")
		}
		return parseAddRoleArgs(argv[1:])

	case "orch":
		return parseOrchArgs(argv)
	}

	return nil, nil
}

func parseRunArgs(argv []string) (*Command, error) {
	out := &Command{Cmd: "run"}
	var promptTokens []string

loop:
	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		switch {
		case tok == "--":
			promptTokens = append(promptTokens, argv[i+1:]...)
			break loop
		case tok == "--roles":
			i++
			if i >= len(argv) {
				return nil, usagef("usage: aoe run --roles <csv> <prompt>")
			}
			out.Roles = strings.TrimSpace(argv[i])
		case tok == "--priority":
			i++
			if i >= len(argv) {
				return nil, usagef("usage: aoe run --priority <P1|P2|P3> <prompt>")
			}
			out.Priority = strings.ToUpper(strings.TrimSpace(argv[i]))
			if out.Priority != "P1" && out.Priority != "P2" && out.Priority != "P3" {
				return nil, usagef("invalid priority (use P1/P2/P3)")
			}
		case tok == "--timeout-sec":
			i++
			if i >= len(argv) {
				return nil, usagef("usage: aoe run --timeout-sec <seconds> <prompt>")
			}
			n, err := strconv.Atoi(argv[i])
			if err != nil {
				return nil, usagef("--timeout-sec must be an integer")
			}
			if n < 1 {
				n = 1
			}
			out.TimeoutSec = n
		case tok == "--no-wait":
			out.NoWait = true
		case tok == "--direct":
			if out.ForceMode == "dispatch" {
				return nil, usagef("cannot use --direct with --dispatch")
			}
			out.ForceMode = "direct"
		case tok == "--dispatch":
			if out.ForceMode == "direct" {
				return nil, usagef("cannot use --dispatch with --direct")
			}
			out.ForceMode = "dispatch"
		case strings.HasPrefix(tok, "--"):
			return nil, usagef("unknown option: %s", tok)
		default:
			promptTokens = append(promptTokens, argv[i:]...)
			break loop
		}
	}

	out.Prompt = strings.TrimSpace(strings.Join(promptTokens, " "))
	if out.Prompt == "" {
		return nil, usagef("usage: aoe run [--direct|--dispatch] [--roles <csv>] [--priority P1|P2|P3] [--timeout-sec N] [--no-wait] <prompt>")
	}
	return out, nil
}

func parseAddRoleArgs(argv []string) (*Command, error) {
	if len(argv) == 0 {
		return nil, usagef("usage: aoe add-role <Role> [--provider <name>] [--launch <cmd>] [--spawn|--no-spawn]")
	}

	out := &Command{Cmd: "add-role", Spawn: true}
	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		switch {
		case tok == "--provider":
			i++
			if i >= len(argv) {
				return nil, usagef("usage: --provider <name>")
			}
			out.Provider = strings.TrimSpace(argv[i])
		case tok == "--launch":
			i++
			if i >= len(argv) {
				return nil, usagef("usage: --launch <command>")
			}
			out.Launch = argv[i]
		case tok == "--spawn":
			out.Spawn = true
		case tok == "--no-spawn":
			out.Spawn = false
		case strings.HasPrefix(tok, "--"):
			return nil, usagef("unknown option: %s", tok)
		default:
			if out.Role != "" {
				return nil, usagef("usage: aoe add-role <Role> [options]")
			}
			out.Role = strings.TrimSpace(tok)
		}
	}

	if out.Role == "" {
		return nil, usagef("usage: aoe add-role <Role> [--provider <name>] [--launch <cmd>] [--spawn|--no-spawn]")
	}
	return out, nil
}

func parseOrchArgs(argv []string) (*Command, error) {
	if len(argv) == 0 {
		return &Command{Cmd: "orch-help"}, nil
	}

	sub := strings.ToLower(strings.TrimSpace(argv[0]))
	subArgv := argv[1:]

	switch sub {
	case "help", "h":
		return &Command{Cmd: "orch-help"}, nil

	case "list", "ls":
		return &Command{Cmd: "orch-list"}, nil

	case "use", "switch", "select":
		if len(subArgv) != 1 {
			return nil, usagef("usage: aoe orch use <name>")
		}
		return &Command{Cmd: "orch-use", Orch: strings.TrimSpace(subArgv[0])}, nil

	case "pick", "focus":
		out := &Command{Cmd: "orch-pick"}
		seenRequest := false
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			switch {
			case tok == "--orch":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch %s [--orch <name>] <number|request_or_alias>", sub)
				}
				out.Orch = strings.TrimSpace(subArgv[i])
			case strings.HasPrefix(tok, "--"):
				return nil, usagef("unknown option: %s", tok)
			default:
				if seenRequest {
					return nil, usagef("usage: aoe orch %s [--orch <name>] <number|request_or_alias>", sub)
				}
				out.RequestID = strings.TrimSpace(tok)
				seenRequest = true
			}
		}
		if out.RequestID == "" {
			return nil, usagef("usage: aoe orch %s [--orch <name>] <number|request_or_alias>", sub)
		}
		return out, nil

	case "status", "stat":
		out := &Command{Cmd: "orch-status"}
		seenName := false
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			switch {
			case tok == "--orch":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch status [--orch <name>]")
				}
				out.Orch = strings.TrimSpace(subArgv[i])
				seenName = true
			case strings.HasPrefix(tok, "--"):
				return nil, usagef("unknown option: %s", tok)
			default:
				if seenName {
					return nil, usagef("usage: aoe orch status [--orch <name>]")
				}
				out.Orch = strings.TrimSpace(tok)
				seenName = true
			}
		}
		return out, nil

	case "add", "create":
		out := &Command{Cmd: "orch-add", Init: true, Spawn: true, SetActive: true}
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			switch {
			case tok == "--path":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch add <name> --path <project_root> [--overview <text>] [--init|--no-init] [--spawn|--no-spawn]")
				}
				out.Path = strings.TrimSpace(subArgv[i])
			case tok == "--overview":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: --overview <text>")
				}
				out.Overview = subArgv[i]
			case tok == "--init":
				out.Init = true
			case tok == "--no-init":
				out.Init = false
			case tok == "--spawn":
				out.Spawn = true
			case tok == "--no-spawn":
				out.Spawn = false
			case tok == "--set-active":
				out.SetActive = true
			case tok == "--no-set-active":
				out.SetActive = false
			case strings.HasPrefix(tok, "--"):
				return nil, usagef("unknown option: %s", tok)
			default:
				if out.Orch != "" {
					return nil, usagef("usage: aoe orch add <name> --path <project_root> [options]")
				}
				out.Orch = strings.TrimSpace(tok)
			}
		}
		if out.Orch == "" || out.Path == "" {
			return nil, usagef("usage: aoe orch add <name> --path <project_root> [--overview <text>] [--init|--no-init] [--spawn|--no-spawn]")
		}
		return out, nil

	case "run":
		orchName := ""
		var passthrough []string
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			if tok == "--orch" {
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch run [--orch <name>] [--direct|--dispatch] [--roles <csv>] [--priority P1|P2|P3] [--timeout-sec N] [--no-wait] <prompt>")
				}
				orchName = strings.TrimSpace(subArgv[i])
				continue
			}
			passthrough = append(passthrough, tok)
		}
		out, err := parseRunArgs(passthrough)
		if err != nil {
			return nil, err
		}
		out.Cmd = "orch-run"
		out.Orch = orchName
		return out, nil

	case "check", "stage", "3step", "3-stage":
		out := &Command{Cmd: "orch-check"}
		seenRequest := false
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			switch {
			case tok == "--orch":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch check [--orch <name>] [<request_or_alias>]")
				}
				out.Orch = strings.TrimSpace(subArgv[i])
			case strings.HasPrefix(tok, "--"):
				return nil, usagef("unknown option: %s", tok)
			default:
				if seenRequest {
					return nil, usagef("usage: aoe orch check [--orch <name>] [<request_or_alias>]")
				}
				out.RequestID = strings.TrimSpace(tok)
				seenRequest = true
			}
		}
		return out, nil

	case "task", "lifecycle", "life":
		out := &Command{Cmd: "orch-task"}
		seenRequest := false
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			switch {
			case tok == "--orch":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch task [--orch <name>] [<request_or_alias>]")
				}
				out.Orch = strings.TrimSpace(subArgv[i])
			case strings.HasPrefix(tok, "--"):
				return nil, usagef("unknown option: %s", tok)
			default:
				if seenRequest {
					return nil, usagef("usage: aoe orch task [--orch <name>] [<request_or_alias>]")
				}
				out.RequestID = strings.TrimSpace(tok)
				seenRequest = true
			}
		}
		return out, nil

	case "cancel", "retry", "replan":
		out := &Command{Cmd: "orch-" + sub}
		seenRequest := false
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			switch {
			case tok == "--orch":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch %s [--orch <name>] <request_or_alias>", sub)
				}
				out.Orch = strings.TrimSpace(subArgv[i])
			case strings.HasPrefix(tok, "--"):
				return nil, usagef("unknown option: %s", tok)
			default:
				if seenRequest {
					return nil, usagef("usage: aoe orch %s [--orch <name>] <request_or_alias>", sub)
				}
				out.RequestID = strings.TrimSpace(tok)
				seenRequest = true
			}
		}
		if sub != "cancel" && out.RequestID == "" {
			return nil, usagef("usage: aoe orch %s [--orch <name>] <request_or_alias>", sub)
		}
		return out, nil

	case "monitor", "tasks", "board":
		out := &Command{Cmd: "orch-monitor"}
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			switch {
			case tok == "--orch":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch monitor [--orch <name>] [--limit <n>]")
				}
				out.Orch = strings.TrimSpace(subArgv[i])
			case tok == "--limit":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch monitor [--orch <name>] [--limit <n>]")
				}
				if !isDigits(subArgv[i]) {
					return nil, usagef("--limit must be integer")
				}
				n, _ := strconv.Atoi(subArgv[i])
				out.Limit = clampRange(n, 1, 50)
			case strings.HasPrefix(tok, "--"):
				return nil, usagef("unknown option: %s", tok)
			default:
				if !isDigits(tok) {
					return nil, usagef("usage: aoe orch monitor [--orch <name>] [--limit <n>]")
				}
				n, _ := strconv.Atoi(tok)
				out.Limit = clampRange(n, 1, 50)
			}
		}
		return out, nil

	case "kpi", "metrics":
		out := &Command{Cmd: "orch-kpi"}
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			switch {
			case tok == "--orch":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch kpi [--orch <name>] [--hours <n>]")
				}
				out.Orch = strings.TrimSpace(subArgv[i])
			case tok == "--hours":
				i++
				if i >= len(subArgv) {
					return nil, usagef("usage: aoe orch kpi [--orch <name>] [--hours <n>]")
				}
				if !isDigits(subArgv[i]) {
					return nil, usagef("--hours must be integer")
				}
				n, _ := strconv.Atoi(subArgv[i])
				out.Hours = clampRange(n, 1, 168)
			case strings.HasPrefix(tok, "--"):
				return nil, usagef("unknown option: %s", tok)
			default:
				if !isDigits(tok) {
					return nil, usagef("usage: aoe orch kpi [--orch <name>] [--hours <n>]")
				}
				n, _ := strconv.Atoi(tok)
				out.Hours = clampRange(n, 1, 168)
			}
		}
		return out, nil
	}

	return nil, usagef("usage: aoe orch <help|list|use|pick|add|status|run|check|task|cancel|retry|replan|monitor|kpi>")
}
