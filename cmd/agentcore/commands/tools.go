package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"github.com/agentcore/runtime/pkg/agentcore/llm"
	"github.com/agentcore/runtime/pkg/agentcore/toolexec"
)

// maxToolOutput caps how much of a tool's raw output reaches the
// model; the rest is truncated with a marker.
const maxToolOutput = 16 * 1024

func def(name, description, params string) llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionSpec{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(params),
		},
	}
}

// registerBuiltinTools wires the baseline tool set every deployment
// gets: shell, file read/write, directory listing. Host products
// layer their own tools on top through the same Register call.
func registerBuiltinTools(e *toolexec.Executor) {
	e.Register(def("bash",
		"Run a shell command and return its combined output.",
		`{"type":"object","properties":{"command":{"type":"string","description":"the command to run"}},"required":["command"]}`,
	), runBash)

	e.Register(def("read_file",
		"Read a file and return its contents.",
		`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
	), readFile)

	e.Register(def("write_file",
		"Write content to a file, creating it if needed.",
		`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`,
	), writeFile)

	e.Register(def("list_dir",
		"List the entries of a directory.",
		`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
	), listDir)
}

func runBash(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("bash needs a command")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = os.Environ()
	for k, v := range toolexec.SkillEnv(ctx) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	out, err := cmd.CombinedOutput()
	result := truncate(string(out))
	if err != nil {
		return fmt.Sprintf("%s\n[exit code %s]", result, exitCode(err)), nil
	}
	return result, nil
}

func exitCode(err error) string {
	if exit, ok := err.(*exec.ExitError); ok {
		return fmt.Sprint(exit.ExitCode())
	}
	return err.Error()
}

func readFile(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return truncate(string(data)), nil
}

func writeFile(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func listDir(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			b.WriteString(e.Name() + "/\n")
			continue
		}
		b.WriteString(e.Name() + "\n")
	}
	return b.String(), nil
}

func truncate(s string) string {
	if len(s) <= maxToolOutput {
		return s
	}
	return s[:maxToolOutput] + "\n[output truncated]"
}

// toolCatalog renders the registered tools as a system-prompt section.
func toolCatalog(e *toolexec.Executor) func() string {
	return func() string {
		defs := e.Definitions()
		if len(defs) == 0 {
			return ""
		}
		names := make([]string, 0, len(defs))
		byName := make(map[string]string, len(defs))
		for _, d := range defs {
			names = append(names, d.Function.Name)
			byName[d.Function.Name] = d.Function.Description
		}
		sort.Strings(names)

		var b strings.Builder
		b.WriteString("Available tools:\n")
		for _, n := range names {
			fmt.Fprintf(&b, "- %s: %s\n", n, byName[n])
		}
		return b.String()
	}
}

// environmentBlock describes the host environment to the model.
func environmentBlock() string {
	wd, _ := os.Getwd()
	host, _ := os.Hostname()
	return fmt.Sprintf("Environment:\n- os: %s/%s\n- host: %s\n- working directory: %s",
		runtime.GOOS, runtime.GOARCH, host, wd)
}
