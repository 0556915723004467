package worker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// CommandLine splits a configured command such as "uvx skill-seekers" into
// the executable and its leading arguments, honouring shell quoting.
func CommandLine(setting string) (string, []string, error) {
	words, err := shellquote.Split(strings.TrimSpace(setting))
	if err != nil {
		return "", nil, fmt.Errorf("parse command %q: %w", setting, err)
	}
	if len(words) == 0 {
		return "", nil, errors.New("command is empty")
	}
	return words[0], words[1:], nil
}

// Quote renders a command for logs so it can be pasted into a shell.
// Values following a flag listed in secret are masked.
func Quote(binary string, args []string, secret ...string) string {
	masked := make([]string, 0, len(args)+1)
	masked = append(masked, binary)
	hide := false
	for _, arg := range args {
		if hide {
			masked = append(masked, "***")
			hide = false
			continue
		}
		masked = append(masked, arg)
		for _, flag := range secret {
			if arg == flag {
				hide = true
			}
		}
	}
	return shellquote.Join(masked...)
}

// EnvPairs renders key/value pairs as KEY=value entries, skipping empty keys.
func EnvPairs(kv map[string]string) []string {
	out := make([]string, 0, len(kv))
	for key, value := range kv {
		if strings.TrimSpace(key) == "" {
			continue
		}
		out = append(out, key+"="+value)
	}
	return out
}
