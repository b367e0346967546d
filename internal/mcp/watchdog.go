package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// WatchParent polls for parent process death in a background goroutine
// and calls cancel when the parent PID changes, so a stdio server whose
// client died does not linger as a zombie.
//
// It must never read stdin: the SDK's StdioTransport owns it, and any
// byte taken here would corrupt the JSON-RPC stream. Watching the
// parent PID is the side channel that stays off stdin.
func WatchParent(ctx context.Context, interval time.Duration, cancel context.CancelFunc) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ppid := os.Getppid()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if os.Getppid() != ppid {
					slog.Warn("Parent process died, shutting down", "was", ppid)
					cancel()
					return
				}
			}
		}
	}()
}
