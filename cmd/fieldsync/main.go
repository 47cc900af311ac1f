// Command fieldsync is the field device sync agent. It queues changes made
// without connectivity and replays them against the API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"constructionpro/internal/config"
	"constructionpro/internal/fieldsync/agent"
	"constructionpro/internal/fieldsync/apiclient"
	"constructionpro/internal/fieldsync/syncqueue"
	"constructionpro/internal/logging"
)

const usage = `usage: fieldsync <command> [flags]

commands:
  enqueue       queue a change: -op create|update|delete|submit -type RESOURCE [-id ID] [-payload JSON]
  pin           place a pin: -doc ID -page N -x X -y Y -kind KIND [-comment TEXT] [-label TEXT]
  sync          probe the API and replay queued changes
  status        print the queue
  retry ID      reset an exhausted change so the next sync replays it
  discard ID    drop a queued change
  clear-failed  drop every exhausted change
  watch         replay on every reconnect until interrupted [-metrics-addr ADDR]
`

func main() {
	cfg, err := config.LoadFieldSync()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log.Format, cfg.Log.Level).With("service", "fieldsync")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "fieldsync:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, cfg *config.FieldSyncConfig, logger logging.Logger, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errUsage
	}
	cmd, args := args[0], args[1:]

	a, err := agent.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	q := a.Queue()

	switch cmd {
	case "enqueue":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		kind := fs.String("op", "", "create, update, delete or submit")
		rtype := fs.String("type", "", "resource type")
		id := fs.String("id", "", "resource id")
		payload := fs.String("payload", "", "JSON payload")
		if err := fs.Parse(args); err != nil {
			return err
		}
		op := syncqueue.Operation{
			Kind:         syncqueue.Kind(*kind),
			ResourceType: syncqueue.ResourceType(*rtype),
			ResourceID:   *id,
		}
		if *payload != "" {
			op.Payload = json.RawMessage(*payload)
		}
		queued, err := q.Enqueue(ctx, op)
		if err != nil {
			return err
		}
		return printJSON(out, queued)

	case "pin":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		doc := fs.String("doc", "", "document id")
		page := fs.Int("page", 1, "page number")
		x := fs.Float64("x", 0, "horizontal position, 0..1")
		y := fs.Float64("y", 0, "vertical position, 0..1")
		kind := fs.String("kind", "COMMENT", "COMMENT, ISSUE, RFI or PUNCH_LIST")
		comment := fs.String("comment", "", "comment text")
		label := fs.String("label", "", "short label")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *doc == "" {
			return fmt.Errorf("%w: -doc is required", errUsage)
		}
		a.Monitor().Check(ctx)
		ed, err := a.Editor(ctx, *doc)
		if err != nil {
			return err
		}
		entry, err := ed.Place(ctx, apiclient.AnnotationInput{
			PageNumber: *page, X: *x, Y: *y, Kind: *kind,
			Comment: optional(*comment), Label: optional(*label),
		})
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"local_id": entry.LocalID, "state": entry.State.String(), "pin": entry.Pin})

	case "sync":
		return printJSON(out, a.Sync(ctx))

	case "status":
		return printJSON(out, map[string]any{
			"status":    q.Status(),
			"pending":   q.Pending(),
			"exhausted": q.Exhausted(),
		})

	case "retry", "discard":
		if len(args) != 1 {
			return fmt.Errorf("%w: %s takes one operation id", errUsage, cmd)
		}
		if cmd == "retry" {
			return q.Retry(ctx, args[0])
		}
		return q.Discard(ctx, args[0])

	case "clear-failed":
		n, err := q.ClearFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "removed %d exhausted operations\n", n)
		return nil

	case "watch":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		metricsAddr := fs.String("metrics-addr", "", "serve queue metrics on this address")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.Watch(ctx, *metricsAddr)
	}

	fmt.Fprint(out, usage)
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
