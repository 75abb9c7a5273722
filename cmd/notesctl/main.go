// Command notesctl talks to a notes server from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/serroba/online-notes/internal/acl"
	"github.com/serroba/online-notes/internal/auth"
	"github.com/serroba/online-notes/internal/logging"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/reconcile"
	"github.com/serroba/online-notes/internal/remote"
	"go.uber.org/zap"
)

const version = "0.1.0"

const usage = `Notes control.

The server url and token default to $NOTES_URL and $NOTES_TOKEN.

Usage:
    notesctl token --secret=<secret> [--ttl=<ttl>] <user>
    notesctl create [options]
    notesctl show [options] <doc>
    notesctl log [options] [--since=<n>] <doc>
    notesctl edit [options] [--codec=<codec>] [--timeout=<timeout>] <doc> <op>...
    notesctl watch [options] <doc>
    notesctl verify [options] <doc>
    notesctl share [options] <doc> <user> <role>
    notesctl unshare [options] <doc> <user>
    notesctl -h | --help
    notesctl --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --url=<url>            Server url.
    --token=<token>        Bearer token.
    --user=<user>          User id sent when the server runs without tokens.
    --secret=<secret>      The server's JWT secret.
    --ttl=<ttl>            Token lifetime [default: 24h].
    --since=<n>            Only operations after this version [default: 0].
    --codec=<codec>        Document codec: json or text [default: json].
    --timeout=<timeout>    How long edit waits for its operations to commit [default: 30s].
    -v --verbose           Log the sync loop to stderr.`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "notesctl:", err)
		os.Exit(1)
	}
}

// command is the parsed invocation shared by every subcommand.
type command struct {
	opts   docopt.Opts
	client *remote.Client
	out    io.Writer
	logger *zap.Logger
}

func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	// Help and version text are printed to out instead of exiting.
	var printed string

	parser := &docopt.Parser{HelpHandler: func(err error, text string) {
		if err == nil {
			printed = text
		}
	}}

	opts, err := parser.ParseArgs(usage, args, version)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w\n%s", err, usage)
	}

	if printed != "" {
		_, err := fmt.Fprintln(out, printed)

		return err
	}

	if token, _ := opts.Bool("token"); token {
		return issueToken(opts, out)
	}

	cmd, err := newCommand(opts, getenv, out)
	if err != nil {
		return err
	}

	handlers := []struct {
		name string
		run  func(context.Context) error
	}{
		{"create", cmd.create},
		{"show", cmd.show},
		{"log", cmd.log},
		{"edit", cmd.edit},
		{"watch", cmd.watch},
		{"verify", cmd.verify},
		{"share", cmd.share},
		{"unshare", cmd.unshare},
	}

	for _, h := range handlers {
		if selected, _ := opts.Bool(h.name); selected {
			return h.run(ctx)
		}
	}

	return errors.New("no command given")
}

func newCommand(opts docopt.Opts, getenv func(string) string, out io.Writer) (*command, error) {
	url := optString(opts, "--url", getenv("NOTES_URL"))
	if url == "" {
		url = "http://localhost:8080"
	}

	logger := zap.NewNop()

	if verbose, _ := opts.Bool("--verbose"); verbose {
		l, err := logging.New("debug", logging.FormatConsole)
		if err != nil {
			return nil, err
		}

		logger = l
	}

	client, err := remote.NewClient(remote.Config{
		BaseURL: url,
		Token:   optString(opts, "--token", getenv("NOTES_TOKEN")),
		UserID:  optString(opts, "--user", getenv("NOTES_USER")),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	return &command{opts: opts, client: client, out: out, logger: logger}, nil
}

// optString returns the option value or fallback when it was not given.
func optString(opts docopt.Opts, key, fallback string) string {
	if v, err := opts.String(key); err == nil && v != "" {
		return v
	}

	return fallback
}

func issueToken(opts docopt.Opts, out io.Writer) error {
	secret, _ := opts.String("--secret")
	user, _ := opts.String("<user>")

	ttl, err := time.ParseDuration(optString(opts, "--ttl", "24h"))
	if err != nil {
		return fmt.Errorf("parse --ttl: %w", err)
	}

	token, err := auth.NewVerifier([]byte(secret), auth.WithTTL(ttl)).Issue(user)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, token)

	return err
}

func (c *command) docID() string {
	docID, _ := c.opts.String("<doc>")

	return docID
}

func (c *command) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func (c *command) create(ctx context.Context) error {
	docID, err := c.client.CreateDocument(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(c.out, docID)

	return err
}

func (c *command) show(ctx context.Context) error {
	state, err := c.client.GetDocumentAndVersion(ctx, c.docID())
	if err != nil {
		return err
	}

	return c.printJSON(state)
}

func (c *command) log(ctx context.Context) error {
	since, err := c.opts.Int("--since")
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}

	ops, err := c.client.OperationsSince(ctx, c.docID(), since)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if _, err := fmt.Fprintf(c.out, "%d\t%s\t%s\n", op.Position, op.ClientID, op.Payload); err != nil {
			return err
		}
	}

	return nil
}

// edit runs a reconciliation loop until the given operations are committed,
// then prints the resulting content.
func (c *command) edit(ctx context.Context) error {
	codec, err := ot.CodecByName(optString(c.opts, "--codec", "json"))
	if err != nil {
		return err
	}

	timeout, err := time.ParseDuration(optString(c.opts, "--timeout", "30s"))
	if err != nil {
		return fmt.Errorf("parse --timeout: %w", err)
	}

	ops, _ := c.opts["<op>"].([]string)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	editor := reconcile.NewSnapshotEditor(codec)
	loop := reconcile.NewLoop(reconcile.Config{
		DocID:        c.docID(),
		Transport:    c.client,
		Editor:       editor,
		PollInterval: 500 * time.Millisecond,
		Logger:       c.logger,
	})

	done := make(chan error, 1)

	go func() { done <- loop.Run(ctx) }()

	loop.Edit(ops...)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for !loop.Idle() {
		select {
		case <-ctx.Done():
			<-done

			return fmt.Errorf("operations not committed: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	cancel()
	<-done

	status := loop.Status()

	return c.printJSON(map[string]any{
		"docId":   status.DocID,
		"version": status.Version,
		"doc":     editor.Content(),
	})
}

func (c *command) watch(ctx context.Context) error {
	sub, err := c.client.Watch(ctx, c.docID())
	if err != nil {
		return err
	}
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			if ctx.Err() != nil {
				return nil
			}

			return errors.New("watch connection closed")
		case u := <-sub.Updates():
			if _, err := fmt.Fprintf(c.out, "%s\t%d\n", u.DocID, u.Version); err != nil {
				return err
			}
		}
	}
}

func (c *command) verify(ctx context.Context) error {
	if err := c.client.Verify(ctx, c.docID()); err != nil {
		return err
	}

	_, err := fmt.Fprintln(c.out, "ok")

	return err
}

func (c *command) share(ctx context.Context) error {
	user, _ := c.opts.String("<user>")
	name, _ := c.opts.String("<role>")

	role, err := acl.ParseRole(name)
	if err != nil {
		return err
	}

	return c.client.Grant(ctx, c.docID(), user, role)
}

func (c *command) unshare(ctx context.Context) error {
	user, _ := c.opts.String("<user>")

	return c.client.Revoke(ctx, c.docID(), user)
}
