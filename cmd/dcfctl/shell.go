package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newShellCmd(a *app) *cobra.Command {
	var (
		metricsAddr string
		prompt      string
	)
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run commands against one boot of the device",
		Long: `Read commands from standard input and run them against a single boot, so
installed packages and their published interfaces stay available between
commands. Type "exit" or "quit" to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.session != nil && a.session.shell {
				return errors.New("already in a shell")
			}
			d, err := a.boot()
			if err != nil {
				return err
			}
			d.shell = true
			defer func() { d.shell = false }()

			if metricsAddr != "" {
				stop, err := serveMetrics(a, metricsAddr)
				if err != nil {
					return err
				}
				defer stop()
			}

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			sc := bufio.NewScanner(cmd.InOrStdin())
			for {
				if !a.quiet {
					fmt.Fprint(out, prompt)
				}
				if !sc.Scan() {
					break
				}
				words, err := splitLine(sc.Text())
				if err != nil {
					fmt.Fprintln(errOut, "Error:", err)
					continue
				}
				if len(words) == 0 {
					continue
				}
				if words[0] == "exit" || words[0] == "quit" {
					break
				}
				sub := newRootCmd(a)
				sub.SetIn(cmd.InOrStdin())
				sub.SetOut(out)
				sub.SetErr(errOut)
				sub.SetArgs(words)
				if err := sub.Execute(); err != nil {
					fmt.Fprintln(errOut, "Error:", err)
				}
			}
			return sc.Err()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the shell runs")
	cmd.Flags().StringVar(&prompt, "prompt", "dcf> ", "Prompt printed before each command")
	return cmd
}

// serveMetrics exposes the device registry over HTTP until stop is called.
func serveMetrics(a *app, addr string) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.session.promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	a.printInfo("metrics on http://%s/metrics\n", ln.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// splitLine breaks a command line into words. Single quotes are literal,
// double quotes allow backslash escapes.
func splitLine(line string) ([]string, error) {
	var (
		words []string
		cur   strings.Builder
		inTok bool
		quote rune
		esc   bool
	)
	for _, r := range line {
		switch {
		case esc:
			cur.WriteRune(r)
			esc = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\\' && quote != '\'':
			esc, inTok = true, true
		case quote == '"':
			if r == '"' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, inTok = r, true
		case r == ' ' || r == '\t':
			if inTok {
				words = append(words, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	switch {
	case esc:
		return nil, errors.New("trailing backslash")
	case quote != 0:
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inTok {
		words = append(words, cur.String())
	}
	return words, nil
}
