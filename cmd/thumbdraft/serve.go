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
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"thumbdraft/internal/backend"
	"thumbdraft/internal/config"
	"thumbdraft/internal/triage"
)

// cmdServeDev runs the stand-in generation service, and the dev mailbox
// when --mail is given, until interrupted.
func (c *cli) cmdServeDev(args []string) error {
	fs := flag.NewFlagSet("serve-dev", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	mailAddr := fs.String("mail", "", "also serve the dev mailbox on this address")
	openMail := fs.Bool("open", false, "dev mailbox accepts requests without login")
	count := fs.Int("count", 0, "thumbnails per generation (default 3)")
	token := fs.String("token", "", "require this bearer token")
	if err := fs.Parse(args); err != nil {
		return usagef("serve-dev: %v", err)
	}
	addr := "localhost:8000"
	if fs.NArg() > 0 {
		addr = fs.Arg(0)
	}

	var opts []backend.DevOption
	if *count > 0 {
		opts = append(opts, backend.WithImageCount(*count))
	}
	if *token != "" {
		opts = append(opts, backend.WithRequiredToken(*token))
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	running := 1
	go func() { errc <- backend.NewDevServer(opts...).ListenAndServe(ctx, addr) }()
	_, _ = fmt.Fprintf(c.out, "Generation service on http://%s\n", addr)
	if *mailAddr != "" {
		mb := triage.NewMailbox(triage.DemoMessages()...)
		if *openMail {
			mb.SkipLogin()
		}
		running++
		go func() { errc <- mb.ListenAndServe(ctx, *mailAddr) }()
		_, _ = fmt.Fprintf(c.out, "Mailbox on http://%s\n", *mailAddr)
	}

	var first error
	for ; running > 0; running-- {
		if err := <-errc; err != nil && first == nil {
			first = err
			stop()
		}
	}
	return first
}

func (c *cli) cmdConfig(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "path":
			p, err := config.ConfigPath()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(c.out, p)
			return nil
		case "set-token":
			if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
				return usagef("config set-token requires <token>")
			}
			if err := config.SetToken(strings.TrimSpace(args[1])); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			_, _ = fmt.Fprintln(c.out, "Token stored in the OS keyring.")
			return nil
		case "clear-token":
			if err := config.ClearToken(); err != nil {
				return fmt.Errorf("clear token: %w", err)
			}
			_, _ = fmt.Fprintln(c.out, "Token removed from the OS keyring.")
			return nil
		default:
			return usagef("unknown config subcommand %q", args[0])
		}
	}

	p, _ := config.ConfigPath()
	_, _ = fmt.Fprintf(c.out, "# %s\n", p)
	data, err := yaml.Marshal(c.cfg)
	if err != nil {
		return err
	}
	_, _ = c.out.Write(data)
	for _, key := range []string{
		"generation.base_url", "generation.timeout_ms", "generation.tls_insecure", "triage.base_url",
		"general.telemetry_opt_in", "general.drafts_dir", "general.history_dsn",
		"logging.level", "logging.format", "logging.source", "logging.file",
	} {
		if env, ok := config.EnvOverrideFor(key); ok {
			_, _ = fmt.Fprintf(c.out, "# %s overridden by %s\n", key, env)
		}
	}
	tok := "not set"
	if c.token != "" {
		tok = "set"
	}
	_, _ = fmt.Fprintf(c.out, "# token: %s\n", tok)
	return nil
}
