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
	"log/slog"
	"strconv"
	"strings"
	"time"

	"thumbdraft/internal/draft"
	"thumbdraft/internal/export"
	"thumbdraft/internal/history"
	"thumbdraft/internal/ui"
)

// draftFlags parses the --draft option shared by the draft commands.
func draftFlags(name string, args []string) (ref string, rest []string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&ref, "draft", "", "draft id or unique prefix")
	if err := fs.Parse(args); err != nil {
		return "", nil, usagef("%s: %v", name, err)
	}
	return ref, fs.Args(), nil
}

func (c *cli) cmdNew(args []string) error {
	idea := strings.Join(args, " ")
	if strings.TrimSpace(idea) == "" {
		return usagef("new requires <idea>")
	}
	ctrl := c.newDraft(context.Background())
	ctrl.SetIdea(idea)
	if err := c.save(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Created draft %s\n", ctrl.ID())
	return nil
}

// cmdGenerate generates for the current (or --draft) draft. An idea on the
// command line without --draft starts a new draft.
func (c *cli) cmdGenerate(args []string) error {
	ref, rest, err := draftFlags("generate", args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	idea := strings.Join(rest, " ")
	var ctrl *draft.Controller
	if ref == "" && idea != "" {
		ctrl = c.newDraft(ctx)
	} else if ctrl, err = c.openDraft(ctx, ref); err != nil {
		return err
	}
	if idea != "" {
		ctrl.SetIdea(idea)
	}
	return c.runOp(ctrl.Generate)
}

func (c *cli) cmdRegenImages(args []string) error {
	return c.simpleOp("regen-images", args, (*draft.Controller).RegenerateImages)
}

func (c *cli) cmdRegenAll(args []string) error {
	return c.simpleOp("regen-all", args, (*draft.Controller).RegenerateAll)
}

func (c *cli) cmdUpdateText(args []string) error {
	return c.simpleOp("update-text", args, (*draft.Controller).UpdateTextOnly)
}

func (c *cli) simpleOp(name string, args []string, op func(*draft.Controller, context.Context) error) error {
	ref, rest, err := draftFlags(name, args)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return usagef("%s takes no arguments", name)
	}
	ctrl, err := c.openDraft(context.Background(), ref)
	if err != nil {
		return err
	}
	return c.runOp(func(ctx context.Context) error { return op(ctrl, ctx) })
}

// runOp runs one service operation, saves the outcome (including a failure
// message) and prints the draft.
func (c *cli) runOp(op func(context.Context) error) error {
	ctx, cancel := c.opContext()
	defer cancel()
	start := time.Now()
	opErr := op(ctx)
	if err := c.save(); err != nil {
		return err
	}
	if opErr != nil {
		var ve *draft.ValidationError
		if errors.As(opErr, &ve) {
			return errors.New(ve.Message)
		}
		return opErr
	}
	c.log.Info("operation done", slog.String("draft", c.ctrl.ID()), slog.Duration("took", time.Since(start)))
	printView(c.out, c.ctrl.ID(), c.ctrl.State().Status, c.ctrl.View())
	return nil
}

func (c *cli) cmdSelect(args []string) error {
	ref, rest, err := draftFlags("select", args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return usagef("select requires <n|none>")
	}
	ctrl, err := c.openDraft(context.Background(), ref)
	if err != nil {
		return err
	}
	if rest[0] == "none" || rest[0] == "0" {
		ctrl.ClearSelection()
	} else {
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return usagef("select: %q is not a number", rest[0])
		}
		if err := ctrl.Select(n - 1); err != nil {
			return fmt.Errorf("select %d: %w", n, err)
		}
	}
	if err := c.save(); err != nil {
		return err
	}
	printView(c.out, ctrl.ID(), ctrl.State().Status, ctrl.View())
	return nil
}

func (c *cli) cmdSetText(args []string) error {
	ref, rest, err := draftFlags("set-text", args)
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return usagef("set-text requires <field> [value]")
	}
	f, err := draft.ParseField(rest[0])
	if err != nil {
		return usagef("set-text: %v", err)
	}
	ctrl, err := c.openDraft(context.Background(), ref)
	if err != nil {
		return err
	}
	if err := ctrl.EditText(f, strings.Join(rest[1:], " ")); err != nil {
		return err
	}
	if err := c.save(); err != nil {
		return err
	}
	printView(c.out, ctrl.ID(), ctrl.State().Status, ctrl.View())
	return nil
}

func (c *cli) cmdShow(args []string) error {
	ref, _, err := draftFlags("show", args)
	if err != nil {
		return err
	}
	ctrl, err := c.openDraft(context.Background(), ref)
	if err != nil {
		return err
	}
	printView(c.out, ctrl.ID(), ctrl.State().Status, ctrl.View())
	return nil
}

func (c *cli) cmdList(_ []string) error {
	list, err := c.store.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		_, _ = fmt.Fprintln(c.out, "No drafts yet.")
		return nil
	}
	cur, _ := c.store.Current()
	for _, s := range list {
		mark := " "
		if s.ID == cur {
			mark = "*"
		}
		_, _ = fmt.Fprintf(c.out, "%s %-8s  %s  %2d thumbnails  %s\n",
			mark, short(s.ID), s.SavedAt.Local().Format("2006-01-02 15:04"), s.Thumbnails, s.Idea)
	}
	return nil
}

func (c *cli) cmdDownload(args []string) error {
	ref, rest, err := draftFlags("download", args)
	if err != nil {
		return err
	}
	if len(rest) < 1 || len(rest) > 2 {
		return usagef("download requires <n|all> [dir]")
	}
	dir := "."
	if len(rest) == 2 {
		dir = rest[1]
	}
	ctrl, err := c.openDraft(context.Background(), ref)
	if err != nil {
		return err
	}
	ctx, cancel := c.opContext()
	defer cancel()
	f := export.NewFetcher()
	st := ctrl.State()
	var paths []string
	if rest[0] == "all" {
		paths, err = export.DownloadAll(ctx, f, st, dir)
	} else {
		n, convErr := strconv.Atoi(rest[0])
		if convErr != nil {
			return usagef("download: %q is not a number", rest[0])
		}
		var p string
		p, err = export.Download(ctx, f, st, n-1, dir)
		if p != "" {
			paths = append(paths, p)
		}
	}
	for _, p := range paths {
		_, _ = fmt.Fprintln(c.out, "Wrote", p)
	}
	return err
}

func (c *cli) cmdExport(args []string) error {
	ref, rest, err := draftFlags("export", args)
	if err != nil {
		return err
	}
	if len(rest) < 1 || len(rest) > 2 {
		return usagef("export requires <format>[,format...] [dir]")
	}
	var formats []export.Format
	for _, name := range strings.Split(rest[0], ",") {
		f, err := export.ParseFormat(name)
		if err != nil {
			return usagef("export: %v", err)
		}
		formats = append(formats, f)
	}
	opt := export.Options{Formats: formats, Sheet: export.SheetOptions{HighlightSelection: true}}
	if len(rest) == 2 {
		opt.OutDir = rest[1]
	}
	ctrl, err := c.openDraft(context.Background(), ref)
	if err != nil {
		return err
	}
	ctx, cancel := c.opContext()
	defer cancel()
	paths, err := export.Run(ctx, export.NewFetcher(), ctrl.State(), opt)
	for _, p := range paths {
		_, _ = fmt.Fprintln(c.out, "Wrote", p)
	}
	return err
}

func (c *cli) cmdHistory(args []string) error {
	ref, rest, err := draftFlags("history", args)
	if err != nil {
		return err
	}
	n := 20
	if len(rest) > 0 {
		if n, err = strconv.Atoi(rest[0]); err != nil || n <= 0 {
			return usagef("history: %q is not a positive number", rest[0])
		}
	}
	ctx := context.Background()
	h := c.historyStore(ctx)
	if h == nil {
		return errors.New("history is not available, see the log for details")
	}
	var entries []history.Entry
	if ref != "" {
		id, err := c.store.Resolve(ref)
		if err != nil {
			return err
		}
		entries, err = h.ForDraft(ctx, id, n)
		if err != nil {
			return err
		}
	} else if entries, err = h.Recent(ctx, n); err != nil {
		return err
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(c.out, "No requests recorded yet.")
		return nil
	}
	for _, e := range entries {
		outcome := fmt.Sprintf("%d thumbnails", e.Thumbnails)
		if e.Error != "" {
			outcome = "failed: " + e.Error
		}
		_, _ = fmt.Fprintf(c.out, "%s  %-17s  %-8s  %6dms  %s  %s\n",
			e.At.Local().Format("2006-01-02 15:04:05"), e.Op, short(e.DraftID), e.Duration.Milliseconds(), outcome, e.Idea)
	}
	return nil
}

func (c *cli) cmdUI(args []string) error {
	ref, _, err := draftFlags("ui", args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	ctrl, err := c.openDraft(ctx, ref)
	if err != nil {
		if ref != "" {
			return err
		}
		ctrl = c.newDraft(ctx)
	}
	return ui.Run(ui.Deps{
		Controller: ctrl,
		Store:      c.store,
		Fetcher:    export.NewFetcher(),
		ExportDir:  ".",
		Crash:      c.crash,
	})
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printView(w io.Writer, id string, status draft.Status, v draft.View) {
	_, _ = fmt.Fprintf(w, "Draft %s (%s)\n", short(id), status)
	_, _ = fmt.Fprintf(w, "Idea: %s\n", v.Idea)
	for _, f := range draft.Fields {
		val := v.Text.Get(f)
		if f == draft.FieldDate && strings.TrimSpace(val) == "" {
			val = v.DateOrToday + " (today)"
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", fieldTitle(f), val)
	}
	if v.Error != "" {
		_, _ = fmt.Fprintf(w, "Error: %s\n", v.Error)
	}
	if len(v.Thumbnails) == 0 {
		_, _ = fmt.Fprintln(w, "No thumbnails yet.")
		return
	}
	_, _ = fmt.Fprintln(w, "Thumbnails:")
	for _, t := range v.Thumbnails {
		mark := " "
		if t.Selected {
			mark = "*"
		}
		_, _ = fmt.Fprintf(w, "  %s %s  %s\n", mark, t.Title, t.Filename)
	}
}

func fieldTitle(f draft.Field) string {
	s := string(f)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
