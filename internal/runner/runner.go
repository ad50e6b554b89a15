// Package runner adapts the external downloader subprocess to the
// scheduler's executor contract. The actual download tool is an opaque
// collaborator; this just builds its command line and keeps it tied to the
// task context so cooperative cancellation kills the process.
package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"fetchd/internal/queue"
	"fetchd/pkg/logx"
)

type Config struct {
	Command string
	Args    []string
}

type Runner struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg, log: log}
}

// Exec satisfies queue.ExecFunc.
func (r *Runner) Exec(ctx context.Context, t queue.Task, report func(queue.Update)) error {
	if strings.TrimSpace(r.cfg.Command) == "" {
		return fmt.Errorf("runner command not configured")
	}

	args := make([]string, 0, len(r.cfg.Args))
	for _, a := range r.cfg.Args {
		args = append(args, expand(a, t.Request))
	}

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	r.log.Debug("running downloader", logx.String("task", t.ID), logx.String("cmd", r.cfg.Command))

	report(queue.Update{Progress: 0})
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(string(out))
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return fmt.Errorf("downloader: %w: %s", err, msg)
	}
	report(queue.Update{Progress: 100})
	return nil
}

func expand(arg string, req queue.Request) string {
	rep := strings.NewReplacer(
		"{{url}}", req.URL,
		"{{output_dir}}", req.OutputDir,
		"{{format}}", req.MergedFormatID(),
	)
	return rep.Replace(arg)
}
