package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"

	queue "github.com/teltubby/teltubby/internal/jobqueue"
	"github.com/teltubby/teltubby/internal/quota"
	"github.com/teltubby/teltubby/internal/store"
)

// handleCommand dispatches one admin command line to its handler and
// replies in the originating chat. Every branch here is whitelist-gated
// already by the caller in HandleUpdate.
func (d *Dispatcher) handleCommand(ctx context.Context, u Update, text string) error {
	fields := strings.Fields(text)
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	var reply string
	var err error

	switch verb {
	case "start":
		reply = "teltubby is listening. Forward media to archive it, or send help for the command list."
	case "help":
		reply = helpText
	case "status":
		reply, err = d.cmdStatus(ctx)
	case "quota":
		reply, err = d.cmdQuota(ctx)
	case "mode":
		reply = fmt.Sprintf("bot mode: %s", d.cfg.BotMode)
	case "db_maint":
		reply, err = d.cmdDBMaint(ctx)
	case "mtcode":
		reply, err = d.cmdSetSecret(ctx, store.AuthSecretCode, args, "code")
	case "mtpass":
		reply, err = d.cmdSetSecret(ctx, store.AuthSecretPassword, args, "password")
	case "mtstatus":
		reply = d.cmdMTStatus()
	case "queue":
		reply, err = d.cmdQueue()
	case "jobs":
		reply, err = d.cmdJobs(ctx, args)
	case "retry":
		reply, err = d.cmdRetry(ctx, args)
	case "cancel":
		reply, err = d.cmdCancel(ctx, args)
	case "purge":
		reply, err = d.cmdPurge(ctx, args)
	default:
		reply = fmt.Sprintf("unrecognized command %q; send help for the list", verb)
	}

	if err != nil {
		reply = fmt.Sprintf("%s failed: %v", verb, err)
	}

	return d.reply(ctx, u.ChatID, reply)
}

const helpText = `Commands:
start, help, status, quota, mode
db_maint
mtcode <code>, mtpass <password>, mtstatus
queue, jobs <id>, retry <id>, cancel <id>
purge confirm`

func (d *Dispatcher) cmdStatus(ctx context.Context) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "mode: %s\n", d.cfg.BotMode)

	if d.quota != nil {
		fmt.Fprintf(&b, "quota used: %s\n", quota.FormatRatio(d.quota.UsedRatio(ctx)))
	}
	if d.jobs != nil {
		if depth, err := d.jobs.Depth(); err == nil {
			fmt.Fprintf(&b, "queue depth: %d\n", depth)
		}
	}
	if d.worker != nil {
		fmt.Fprintf(&b, "worker simulate mode: %t\n", d.worker.Simulating())
	}
	if d.authMgr != nil {
		fmt.Fprintf(&b, "auth session simulate mode: %t\n", d.authMgr.Simulating())
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) cmdQuota(ctx context.Context) (string, error) {
	if d.quota == nil {
		return "no quota configured", nil
	}
	ratio := d.quota.UsedRatio(ctx)
	if ratio == quota.Unknown {
		return "quota: unknown", nil
	}
	return fmt.Sprintf("quota used: %s", quota.FormatRatio(ratio)), nil
}

func (d *Dispatcher) cmdDBMaint(ctx context.Context) (string, error) {
	if err := d.store.Vacuum(ctx); err != nil {
		return "", err
	}
	return "database maintenance complete", nil
}

func (d *Dispatcher) cmdSetSecret(ctx context.Context, key string, args []string, label string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("usage: mt%s <%s>", label, label)
	}
	value := strings.Join(args, " ")
	if err := d.store.SetSecret(ctx, key, value, d.now()); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s received", label), nil
}

func (d *Dispatcher) cmdMTStatus() string {
	if d.authMgr == nil {
		return "no alternate-transport session configured"
	}
	if d.authMgr.Simulating() {
		return "alternate transport session: simulate mode (needs mtcode)"
	}
	return "alternate transport session: healthy"
}

func (d *Dispatcher) cmdQueue() (string, error) {
	if d.jobs == nil {
		return "no job queue configured", nil
	}
	depth, err := d.jobs.Depth()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("queue depth: %d", depth), nil
}

func (d *Dispatcher) cmdJobs(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		jobs, err := d.store.ListJobs(ctx, 10)
		if err != nil {
			return "", err
		}
		if len(jobs) == 0 {
			return "no jobs recorded", nil
		}
		var b strings.Builder
		for _, j := range jobs {
			fmt.Fprintf(&b, "%s %s (msg %d)\n", j.JobID, j.State, j.MessageID)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	job, err := d.store.GetJob(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("job %s not found", args[0]), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("job %s: state=%s priority=%d updated=%s last_error=%q",
		job.JobID, job.State, job.Priority, job.UpdatedAt.Format(time.RFC3339), job.LastError), nil
}

func (d *Dispatcher) cmdRetry(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("usage: retry <id>")
	}
	if d.jobs == nil {
		return "", fmt.Errorf("no job queue configured")
	}

	job, err := d.store.GetJob(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("job %s not found", args[0]), nil
	}
	if err != nil {
		return "", err
	}

	var payload queue.JobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("decode stored payload: %w", err)
	}
	payload.JobMetadata.RetryCount++

	if err := d.jobs.Publish(payload, payload.JobMetadata.Priority); err != nil {
		return "", fmt.Errorf("republish: %w", err)
	}
	if err := d.store.UpdateJobState(ctx, job.JobID, store.JobRetrying, "", d.now()); err != nil {
		return "", err
	}
	if d.metrics != nil {
		d.metrics.RecordJobRetried()
	}
	return fmt.Sprintf("job %s re-queued (attempt %d)", job.JobID, payload.JobMetadata.RetryCount+1), nil
}

func (d *Dispatcher) cmdCancel(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("usage: cancel <id>")
	}
	job, err := d.store.GetJob(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("job %s not found", args[0]), nil
	}
	if err != nil {
		return "", err
	}
	if err := d.store.UpdateJobState(ctx, job.JobID, store.JobCancelled, "cancelled by admin", d.now()); err != nil {
		return "", err
	}
	return fmt.Sprintf("job %s cancelled", job.JobID), nil
}

func (d *Dispatcher) cmdPurge(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 || strings.ToLower(args[0]) != "confirm" {
		return "", fmt.Errorf("usage: purge confirm (this permanently deletes every archived object and record)")
	}

	counts, err := d.store.PurgeAll(ctx)
	if err != nil {
		return "", fmt.Errorf("purge store: %w", err)
	}

	var objCount int
	if d.obj != nil {
		objCount, err = d.obj.PurgeBucket(ctx)
		if err != nil {
			return "", fmt.Errorf("purge bucket: %w", err)
		}
	}

	var queueCount int
	if d.jobs != nil {
		queueCount, err = d.jobs.Purge()
		if err != nil {
			return "", fmt.Errorf("purge queue: %w", err)
		}
	}

	return fmt.Sprintf(
		"purged: %s files, %s job rows, %s objects, %s queued messages",
		humanize.Comma(counts.Files), humanize.Comma(counts.Jobs), humanize.Comma(int64(objCount)), humanize.Comma(int64(queueCount)),
	), nil
}
