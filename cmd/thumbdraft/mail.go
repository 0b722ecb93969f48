/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"thumbdraft/internal/triage"
)

func mailUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  thumbdraft mail [--login] search [query]")
	_, _ = fmt.Fprintln(w, "  thumbdraft mail [--login] delete|archive --query <q> <id>...")
	_, _ = fmt.Fprintln(w, "  thumbdraft mail [--login] group <from|date|subject> [query]")
	_, _ = fmt.Fprintln(w, "  thumbdraft mail login-url")
}

func (c *cli) cmdMail(args []string) error {
	fs := flag.NewFlagSet("mail", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	login := fs.Bool("login", false, "follow the service's login link first")
	if err := fs.Parse(args); err != nil {
		return usagef("mail: %v", err)
	}
	rest := fs.Args()
	if len(rest) == 0 {
		mailUsage(c.out)
		return usagef("mail requires a subcommand")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Triage.Timeout()*4)
	defer cancel()
	client := triage.NewClient(c.cfg.Triage.BaseURL, c.cfg.Triage.Timeout())
	w := triage.NewWorkflow(client)
	if err := w.Init(ctx); err != nil {
		c.log.Warn("mail service has no login link", "err", err)
	}
	if *login {
		if err := client.Login(ctx); err != nil {
			return err
		}
	}

	sub, rest := rest[0], rest[1:]
	var err error
	switch sub {
	case "login-url":
		if u := w.AuthURL(); u != "" {
			_, _ = fmt.Fprintln(c.out, u)
			return nil
		}
		return errors.New("mail service offers no login link")
	case "search":
		if err = w.Search(ctx, strings.Join(rest, " ")); err == nil {
			printMessages(c.out, w.Messages())
		}
	case "delete", "archive":
		err = c.mailBulk(ctx, w, sub, rest)
	case "group":
		if len(rest) < 1 {
			return usagef("mail group requires <from|date|subject>")
		}
		by, perr := triage.ParseGroupBy(rest[0])
		if perr != nil {
			return usagef("mail group: %v", perr)
		}
		if err = w.Search(ctx, strings.Join(rest[1:], " ")); err != nil {
			break
		}
		if err = w.Group(ctx, by); err == nil {
			for _, g := range w.Groups() {
				_, _ = fmt.Fprintf(c.out, "%s (%d)\n", g.Key, len(g.Messages))
				for _, m := range g.Messages {
					_, _ = fmt.Fprintf(c.out, "    %s  %s\n", m.ID, m.Subject)
				}
			}
		}
	default:
		mailUsage(c.out)
		return usagef("unknown mail subcommand %q", sub)
	}
	if errors.Is(err, triage.ErrUnauthorized) && w.AuthURL() != "" {
		return fmt.Errorf("%w, log in at %s (or pass --login for the dev mailbox)", err, w.AuthURL())
	}
	return err
}

// mailBulk searches, selects the given ids from the results and applies the action.
func (c *cli) mailBulk(ctx context.Context, w *triage.Workflow, sub string, args []string) error {
	fs := flag.NewFlagSet("mail "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	query := fs.String("query", "", "search the ids are taken from")
	if err := fs.Parse(args); err != nil {
		return usagef("mail %s: %v", sub, err)
	}
	ids := fs.Args()
	if len(ids) == 0 {
		return usagef("mail %s requires at least one message id", sub)
	}
	action, err := triage.ParseAction(sub)
	if err != nil {
		return usagef("%v", err)
	}
	if err := w.Search(ctx, *query); err != nil {
		return err
	}
	for _, id := range ids {
		if !w.Toggle(id, true) {
			return fmt.Errorf("message %s is not in the results of %q", id, *query)
		}
	}
	n, err := w.Bulk(ctx, action)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s %d message(s)\n", titleAction(action), n)
	printMessages(c.out, w.Messages())
	return nil
}

func titleAction(a triage.Action) string {
	if a == triage.ActionArchive {
		return "Archived"
	}
	return "Deleted"
}

func printMessages(w io.Writer, msgs []triage.Message) {
	if len(msgs) == 0 {
		_, _ = fmt.Fprintln(w, "No messages.")
		return
	}
	for _, m := range msgs {
		_, _ = fmt.Fprintf(w, "%s  %-17s  %-28s  %s\n", m.ID, m.Date, m.From, m.Subject)
	}
}
