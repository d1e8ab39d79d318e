package pio

import (
	"slices"

	"github.com/dshills/piotask/internal/task"
)

// BuildArgs returns the final CLI arguments for t. When port is non-empty it
// is injected as the flag each command understands:
//
//	run ... upload      --upload-port <port>
//	run ... monitor     --monitor-port <port>
//	device monitor      --port <port>
//	test                --upload-port <port> --test-port <port>
//
// An empty port leaves the arguments untouched so PlatformIO auto-detects.
func BuildArgs(t *task.ProjectTask, port string) []string {
	if t == nil {
		return nil
	}
	args := slices.Clone(t.Args)
	if port == "" || len(args) == 0 {
		return args
	}

	switch {
	case args[0] == "test":
		args = append(args, "--upload-port", port, "--test-port", port)
	case args[0] == "device" && len(args) > 1 && args[1] == "monitor":
		args = append(args, "--port", port)
	case args[0] == "run":
		if slices.Contains(args, "upload") {
			args = append(args, "--upload-port", port)
		}
		if slices.Contains(args, "monitor") {
			args = append(args, "--monitor-port", port)
		}
	}
	return args
}

// ResolveTask returns a copy of t carrying the arguments BuildArgs produces.
func ResolveTask(t *task.ProjectTask, port string) *task.ProjectTask {
	if t == nil {
		return nil
	}
	return t.WithArgs(BuildArgs(t, port))
}
