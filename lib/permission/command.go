// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"strings"
)

// readOnlyCommands never modify state regardless of arguments (apart
// from output redirection, which is rated separately).
var readOnlyCommands = setOf(
	"ls", "cat", "head", "tail", "less", "more", "grep", "rg", "ag",
	"wc", "pwd", "echo", "printf", "which", "whereis", "type", "file",
	"stat", "du", "df", "tree", "date", "whoami", "id", "uname",
	"hostname", "printenv", "basename", "dirname", "realpath",
	"readlink", "sort", "uniq", "cut", "tr", "diff", "cmp", "jq",
	"true", "false", "test", "[", "sha256sum", "md5sum", "ps",
)

var destructiveCommands = setOf(
	"rm", "rmdir", "shred", "dd", "mkfs", "fdisk", "wipefs", "truncate",
	"kill", "killall", "pkill", "shutdown", "reboot", "halt", "sudo", "su",
)

var writeCommands = setOf(
	"mv", "cp", "mkdir", "touch", "chmod", "chown", "ln", "tee", "sed",
	"install", "patch", "tar", "unzip", "curl", "wget", "scp", "rsync",
)

// wrapperCommands run the command named in their arguments. The
// wrapped command is rated in their place.
var wrapperCommands = setOf(
	"env", "nice", "nohup", "time", "command", "exec", "xargs", "timeout",
	"stdbuf", "ionice",
)

// wrapperValueOptions are the wrapper options that consume the next
// word.
var wrapperValueOptions = map[string]map[string]bool{
	"env":     setOf("-u", "--unset", "-C", "--chdir"),
	"nice":    setOf("-n", "--adjustment"),
	"timeout": setOf("-s", "--signal", "-k", "--kill-after"),
	"xargs": setOf("-I", "-L", "-n", "-P", "-s", "-d", "-E", "-a",
		"--max-args", "--max-lines", "--max-procs", "--max-chars",
		"--delimiter", "--arg-file", "--replace"),
	"exec":   setOf("-a"),
	"stdbuf": setOf("-i", "-o", "-e"),
	"ionice": setOf("-c", "-n", "-p", "--class", "--classdata", "--pid"),
}

// shortOutputCommands are read-only commands whose -o names a file to
// write.
var shortOutputCommands = setOf("sort", "tree")

// readOnlyGitSubcommands are the git subcommands that only inspect a
// repository.
var readOnlyGitSubcommands = setOf(
	"status", "log", "diff", "show", "blame", "rev-parse", "describe",
	"ls-files", "ls-tree", "shortlog", "grep", "reflog", "cat-file",
)

// listingGitSubcommands only inspect when given no positional
// arguments; with one they create or rename refs and remotes.
var listingGitSubcommands = setOf("branch", "tag", "remote")

// gitValueOptions are the global git options that consume the next
// word.
var gitValueOptions = setOf("-C", "--git-dir", "--work-tree", "--namespace", "--exec-path")

var destructiveGitSubcommands = setOf("clean", "filter-branch", "gc", "prune")

// CommandRiskTier rates a shell command line. Compound commands rate as
// their riskiest part. Command substitution and output redirection
// raise the rating so they cannot hide a write behind a read-only
// command name.
func CommandRiskTier(command string) RiskTier {
	command = strings.TrimSpace(command)
	if command == "" {
		return RiskModerate
	}

	tier := RiskRead
	if strings.Contains(command, "$(") || strings.Contains(command, "`") {
		tier = RiskModerate
	}
	if hasOutputRedirect(command) {
		tier = maxTier(tier, RiskWrite)
	}
	for _, segment := range splitCommandLine(command) {
		tier = maxTier(tier, segmentRiskTier(segment))
	}
	return tier
}

func segmentRiskTier(segment []string) RiskTier {
	segment = skipAssignments(segment)
	tier := RiskRead
	for len(segment) > 0 && wrapperCommands[commandName(segment[0])] {
		var wrapperTier RiskTier
		segment, wrapperTier = unwrap(commandName(segment[0]), segment[1:])
		tier = maxTier(tier, wrapperTier)
	}
	if len(segment) == 0 {
		return tier
	}

	name := commandName(segment[0])
	arguments := segment[1:]

	switch {
	case name == "git":
		return maxTier(tier, gitRiskTier(arguments))
	case name == "find":
		for _, argument := range arguments {
			switch argument {
			case "-delete":
				return RiskDestructive
			case "-exec", "-execdir", "-ok", "-fprint", "-fls":
				return maxTier(tier, RiskWrite)
			}
		}
		return tier
	case destructiveCommands[name]:
		return RiskDestructive
	case writeCommands[name]:
		return maxTier(tier, RiskWrite)
	case readOnlyCommands[name]:
		if writesOutputFile(name, arguments) {
			return maxTier(tier, RiskWrite)
		}
		return tier
	default:
		return maxTier(tier, RiskModerate)
	}
}

// skipAssignments drops leading VAR=value words.
func skipAssignments(words []string) []string {
	for len(words) > 0 && strings.Contains(words[0], "=") && !strings.HasPrefix(words[0], "=") &&
		!strings.HasPrefix(words[0], "-") {
		words = words[1:]
	}
	return words
}

func commandName(word string) string {
	if slash := strings.LastIndexByte(word, '/'); slash >= 0 {
		return word[slash+1:]
	}
	return word
}

// unwrap strips wrapper's options and returns the command it runs.
// The returned tier covers what cannot be seen through the wrapper.
func unwrap(wrapper string, arguments []string) ([]string, RiskTier) {
	valueOptions := wrapperValueOptions[wrapper]
	for len(arguments) > 0 && strings.HasPrefix(arguments[0], "-") {
		option := arguments[0]
		arguments = arguments[1:]
		switch {
		case option == "--":
			return skipAssignments(arguments), RiskRead
		case wrapper == "command" && (option == "-v" || option == "-V"):
			// Lookup only; nothing runs.
			return nil, RiskRead
		case wrapper == "env" && (strings.HasPrefix(option, "-S") || strings.HasPrefix(option, "--split-string")):
			// The command is inside a string the shell never split.
			return nil, RiskModerate
		case valueOptions[option] && len(arguments) > 0:
			arguments = arguments[1:]
		}
	}
	if wrapper == "env" {
		arguments = skipAssignments(arguments)
	}
	if wrapper == "timeout" && len(arguments) > 0 {
		// The duration.
		arguments = arguments[1:]
	}
	return arguments, RiskRead
}

// writesOutputFile reports an option that sends a read-only command's
// output to a file.
func writesOutputFile(name string, arguments []string) bool {
	for _, argument := range arguments {
		if argument == "--output" || strings.HasPrefix(argument, "--output=") {
			return true
		}
		if shortOutputCommands[name] && strings.HasPrefix(argument, "-") && !strings.HasPrefix(argument, "--") &&
			strings.ContainsRune(argument, 'o') {
			return true
		}
	}
	return false
}

func gitRiskTier(arguments []string) RiskTier {
	tier := RiskRead
	// Global options come before the subcommand. Configuration can
	// define aliases and hooks that run arbitrary commands.
	for len(arguments) > 0 && strings.HasPrefix(arguments[0], "-") {
		option := arguments[0]
		arguments = arguments[1:]
		switch {
		case option == "-c" || option == "--config-env":
			tier = RiskWrite
			if len(arguments) > 0 {
				arguments = arguments[1:]
			}
		case strings.HasPrefix(option, "--config-env="):
			tier = RiskWrite
		case gitValueOptions[option] && len(arguments) > 0:
			arguments = arguments[1:]
		}
	}
	if len(arguments) == 0 {
		return tier
	}

	subcommand := arguments[0]
	flags := arguments[1:]
	switch {
	case destructiveGitSubcommands[subcommand]:
		return RiskDestructive
	case subcommand == "push" && containsAny(flags, "-f", "--force", "--force-with-lease", "--delete", "-d", "--mirror"):
		return RiskDestructive
	case subcommand == "reset" && containsAny(flags, "--hard"):
		return RiskDestructive
	case subcommand == "checkout" && containsAny(flags, "--", "-f", "--force", "."):
		return RiskDestructive
	case subcommand == "branch" && containsAny(flags, "-D", "-d", "--delete", "-m", "-M"):
		return RiskDestructive
	case subcommand == "tag" && containsAny(flags, "-d", "--delete"):
		return RiskDestructive
	case listingGitSubcommands[subcommand]:
		if hasPositional(flags) {
			return RiskWrite
		}
		return tier
	case readOnlyGitSubcommands[subcommand]:
		if writesOutputFile(subcommand, flags) {
			return RiskWrite
		}
		return tier
	default:
		return maxTier(tier, RiskWrite)
	}
}

func hasPositional(arguments []string) bool {
	for _, argument := range arguments {
		if !strings.HasPrefix(argument, "-") {
			return true
		}
	}
	return false
}

// splitCommandLine splits a command line on the control operators
// ; && || | and newlines, then each part into whitespace-separated
// words. Quoted strings are kept together with their quotes removed.
func splitCommandLine(command string) [][]string {
	var segments [][]string
	var words []string
	var word strings.Builder
	inWord := false
	var quote rune

	endWord := func() {
		if inWord {
			words = append(words, word.String())
			word.Reset()
			inWord = false
		}
	}
	endSegment := func() {
		endWord()
		if len(words) > 0 {
			segments = append(segments, words)
			words = nil
		}
	}

	runes := []rune(command)
	for index := 0; index < len(runes); index++ {
		r := runes[index]
		if quote != 0 {
			if r == quote {
				quote = 0
			} else {
				word.WriteRune(r)
			}
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
			inWord = true
		case ' ', '\t':
			endWord()
		case '&':
			// 2>&1 and &> are redirections, not control operators.
			if (index > 0 && runes[index-1] == '>') || (index+1 < len(runes) && runes[index+1] == '>') {
				word.WriteRune(r)
				inWord = true
				continue
			}
			endSegment()
		case ';', '\n', '|':
			endSegment()
		case '(', ')', '{', '}':
			endSegment()
		default:
			word.WriteRune(r)
			inWord = true
		}
	}
	endSegment()
	return segments
}

// hasOutputRedirect reports a '>' outside quotes that does not target
// /dev/null or duplicate a file descriptor (2>&1).
func hasOutputRedirect(command string) bool {
	var quote rune
	runes := []rune(command)
	for index, r := range runes {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		if r == '\'' || r == '"' {
			quote = r
			continue
		}
		if r != '>' {
			continue
		}
		rest := strings.TrimLeft(string(runes[index+1:]), "> ")
		if strings.HasPrefix(rest, "&") || strings.HasPrefix(rest, "/dev/null") {
			continue
		}
		return true
	}
	return false
}

func containsAny(values []string, candidates ...string) bool {
	for _, value := range values {
		for _, candidate := range candidates {
			if value == candidate {
				return true
			}
		}
	}
	return false
}

func maxTier(a, b RiskTier) RiskTier {
	if b > a {
		return b
	}
	return a
}
