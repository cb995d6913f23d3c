package router

import (
	"context"
	"fmt"
	"io"
	"os"
)

// LogAllowlist prints the iptables commands it would run instead of running them.
type LogAllowlist struct {
	rule Rule
	out  io.Writer
}

// NewLogAllowlist creates a dry-run allow-list writing to out (stdout if nil).
func NewLogAllowlist(rule Rule, out io.Writer) *LogAllowlist {
	if out == nil {
		out = os.Stdout
	}
	return &LogAllowlist{rule: rule, out: out}
}

// AllowlistAdd prints the insert command.
func (l *LogAllowlist) AllowlistAdd(ctx context.Context, hardwareID string) error {
	_, err := fmt.Fprintf(l.out, "[Router CMD] %s\n", l.rule.InsertCommand(hardwareID))
	return err
}

// AllowlistRemove prints the delete command.
func (l *LogAllowlist) AllowlistRemove(ctx context.Context, hardwareID string) error {
	_, err := fmt.Fprintf(l.out, "[Router CMD] %s\n", l.rule.DeleteCommand(hardwareID))
	return err
}
