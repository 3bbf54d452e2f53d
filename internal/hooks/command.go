package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/soyeahso/callbridge/internal/config"
)

const defaultCommandTimeout = 10 * time.Second

// CommandHandler runs a shell command for each event. The payload is written
// to the command's stdin as JSON and the event name is exported as
// CALLBRIDGE_EVENT.
func CommandHandler(entry config.HookEntry) Handler {
	timeout := defaultCommandTimeout
	if entry.Timeout > 0 {
		timeout = time.Duration(entry.Timeout) * time.Millisecond
	}
	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding hook payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", entry.Command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(os.Environ(), "CALLBRIDGE_EVENT="+p.Event)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("hook command %q: %w: %s", entry.Command, err, stderr.String())
		}
		return nil
	}
}

// RegisterConfig wires the configured shell hooks into m.
func RegisterConfig(m *Manager, cfg config.HooksConfig) {
	for i, e := range cfg.CallStarted {
		m.On(EventCallStarted, fmt.Sprintf("config.callStarted[%d]", i), CommandHandler(e))
	}
	for i, e := range cfg.CallEnded {
		m.On(EventCallEnded, fmt.Sprintf("config.callEnded[%d]", i), CommandHandler(e))
	}
}
