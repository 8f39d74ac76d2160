package worker

import (
	"context"
	"time"
)

// Builtins returns the demo function set registered at startup.
func Builtins() map[string]Func {
	return map[string]Func{
		"backup_fn": BackupDB,
		"email_fn":  SendEmail,
		"hotfix_fn": ApplyHotfix,
	}
}

func BackupDB(ctx context.Context, out func(string)) error {
	out("Backing up database...")
	return sleepCtx(ctx, 200*time.Millisecond)
}

func SendEmail(ctx context.Context, out func(string)) error {
	out("Sending email...")
	return sleepCtx(ctx, 100*time.Millisecond)
}

func ApplyHotfix(ctx context.Context, out func(string)) error {
	out("Applying urgent hotfix...")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
