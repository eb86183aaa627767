package stt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// CLI runs the whisper.cpp command line tool on a file and reads the
// transcript from its standard output.
type CLI struct {
	ExecPath  string
	ModelPath string
	Language  string
}

// timestampRe matches the "[00:00:00.000 --> 00:00:02.000]" segment prefix.
var timestampRe = regexp.MustCompile(`^\[[0-9:.]+ --> [0-9:.]+\]\s*`)

func (c CLI) args(path string) []string {
	args := []string{"-m", c.ModelPath, "-f", path, "-nt"}
	if c.Language != "" {
		args = append(args, "-l", c.Language)
	}
	return args
}

func (c CLI) Transcribe(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, c.ExecPath, c.args(path)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
			msg = msg[i+1:]
		}
		return "", fmt.Errorf("%s: %w: %s", c.ExecPath, err, msg)
	}
	return parseCLIOutput(stdout.String()), nil
}

func parseCLIOutput(out string) string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(timestampRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
