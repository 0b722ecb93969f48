/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"thumbdraft/internal/crash"
	"thumbdraft/internal/draft"
	"thumbdraft/internal/version"
)

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Thumbdraft - video thumbnail drafts")
	_, _ = fmt.Fprintf(w, "Version: %s\n", version.String())
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  thumbdraft version|-v|--version              Show version")
	_, _ = fmt.Fprintln(w, "  thumbdraft new <idea>                        Start a new draft and make it current")
	_, _ = fmt.Fprintln(w, "  thumbdraft generate [--draft id] [idea]      Generate thumbnails for the idea")
	_, _ = fmt.Fprintln(w, "  thumbdraft select [--draft id] <n|none>      Select thumbnail n (1-based)")
	_, _ = fmt.Fprintln(w, "  thumbdraft regen-images [--draft id]         New images around the selected thumbnail")
	_, _ = fmt.Fprintln(w, "  thumbdraft regen-all [--draft id]            New images and new text")
	_, _ = fmt.Fprintln(w, "  thumbdraft set-text [--draft id] <field> <v> Edit heading|subheading|label|date")
	_, _ = fmt.Fprintln(w, "  thumbdraft update-text [--draft id]          Re-render the text onto the current images")
	_, _ = fmt.Fprintln(w, "  thumbdraft show [--draft id]                 Print the draft")
	_, _ = fmt.Fprintln(w, "  thumbdraft list                              List saved drafts")
	_, _ = fmt.Fprintln(w, "  thumbdraft download [--draft id] <n|all> [dir]")
	_, _ = fmt.Fprintln(w, "  thumbdraft export [--draft id] <files|zip|pdf|png>[,...] [dir]")
	_, _ = fmt.Fprintln(w, "  thumbdraft history [--draft id] [n]          Recent generation requests")
	_, _ = fmt.Fprintln(w, "  thumbdraft serve-dev [--mail addr] [addr]    Run the local stand-in services")
	_, _ = fmt.Fprintln(w, "  thumbdraft mail search|delete|archive|group  Mailbox triage (see 'thumbdraft mail')")
	_, _ = fmt.Fprintln(w, "  thumbdraft config [path|set-token <t>|clear-token]")
	_, _ = fmt.Fprintln(w, "  thumbdraft ui                                Launch desktop UI (build with -tags fyne)")
}

// usageError is reported with the usage text and exit status 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error { return usageError{msg: fmt.Sprintf(format, args...)} }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run executes one command and returns the process exit status.
func run(args []string, out io.Writer) int {
	c := &cli{out: out}
	target := &crash.Target{Draft: func() (draft.State, bool) {
		if c.ctrl == nil {
			return draft.State{}, false
		}
		return c.ctrl.State(), true
	}}
	c.crash = target
	defer crash.Recover(target)
	defer c.close()

	if len(args) == 0 {
		usage(out)
		return 0
	}
	switch args[0] {
	case "version", "--version", "-v":
		_, _ = fmt.Fprintln(out, "Thumbdraft - video thumbnail drafts")
		_, _ = fmt.Fprintln(out, version.String())
		return 0
	case "help", "--help", "-h":
		usage(out)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		_, _ = fmt.Fprintf(out, "unknown command %q\n", args[0])
		usage(out)
		return 2
	}
	if err := c.setup(); err != nil {
		_, _ = fmt.Fprintln(out, "Error:", err)
		return 1
	}
	target.Store = c.store
	c.log.Debug("start", slog.String("cmd", args[0]), slog.Int("args", len(args)-1))

	if err := cmd(c, args[1:]); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			_, _ = fmt.Fprintln(out, ue.msg)
			usage(out)
			return 2
		}
		c.log.Error("command failed", slog.String("cmd", args[0]), slog.Any("err", err))
		_, _ = fmt.Fprintln(out, "Error:", err)
		return 1
	}
	return 0
}

var commands = map[string]func(*cli, []string) error{
	"new":          (*cli).cmdNew,
	"generate":     (*cli).cmdGenerate,
	"select":       (*cli).cmdSelect,
	"regen-images": (*cli).cmdRegenImages,
	"regen-all":    (*cli).cmdRegenAll,
	"set-text":     (*cli).cmdSetText,
	"update-text":  (*cli).cmdUpdateText,
	"show":         (*cli).cmdShow,
	"list":         (*cli).cmdList,
	"download":     (*cli).cmdDownload,
	"export":       (*cli).cmdExport,
	"history":      (*cli).cmdHistory,
	"serve-dev":    (*cli).cmdServeDev,
	"mail":         (*cli).cmdMail,
	"config":       (*cli).cmdConfig,
	"ui":           (*cli).cmdUI,
}
