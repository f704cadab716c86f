package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	probekit "github.com/domainstack/probekit"
	"github.com/domainstack/probekit/core/config"
	"github.com/domainstack/probekit/core/fetch"
	"github.com/domainstack/probekit/core/verify"
	"github.com/domainstack/probekit/interfaces"
	"github.com/domainstack/probekit/pkg/logging"
)

const subcommands = "resolve, fetch, verify, token, instructions, providers, guard"

func main() {
	// Global flags come before the subcommand; parsing stops at the
	// first non-flag argument, which is the subcommand itself.
	var logLevel, logFormat, configPath string
	fs := flag.NewFlagSet("global", flag.ContinueOnError)
	fs.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&logFormat, "log-format", "console", "Log format (console, json)")
	fs.StringVar(&configPath, "config", "", "Path to a probekit YAML configuration file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	logging.InitLogger(logLevel, logFormat)
	logger := logging.GetLogger()

	args := fs.Args()
	if len(args) < 1 {
		logger.Error("expected a subcommand", "available", subcommands)
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}
	engine, err := probekit.NewEngine(cfg, logger)
	if err != nil {
		logger.Error("Failed to create engine", "error", err)
		os.Exit(1)
	}

	switch args[0] {
	case "resolve":
		resolveCmd := flag.NewFlagSet("resolve", flag.ExitOnError)
		_ = resolveCmd.Parse(args[1:])
		if resolveCmd.NArg() != 1 {
			logger.Error("usage: resolve <host>")
			os.Exit(1)
		}
		runResolve(engine, resolveCmd.Arg(0))

	case "fetch":
		opts := engine.FetchOptions()
		fetchCmd := flag.NewFlagSet("fetch", flag.ExitOnError)
		method := fetchCmd.String("method", "GET", "HTTP method (GET or HEAD)")
		maxBytes := fetchCmd.Int64("max-bytes", opts.MaxBytes, "Response body ceiling in bytes")
		maxRedirects := fetchCmd.Int("max-redirects", opts.MaxRedirects, "Redirects to follow before giving up")
		allowHTTP := fetchCmd.Bool("allow-http", opts.AllowHTTP, "Permit plain http URLs")
		truncate := fetchCmd.Bool("truncate", opts.TruncateOnLimit, "Keep the first max-bytes of an oversized body instead of failing")
		fallbackGet := fetchCmd.Bool("fallback-get", false, "Retry a HEAD refused with 405 once as GET")
		_ = fetchCmd.Parse(args[1:])
		if fetchCmd.NArg() != 1 {
			logger.Error("usage: fetch [flags] <url>")
			os.Exit(1)
		}
		opts.Method = *method
		opts.MaxBytes = *maxBytes
		opts.MaxRedirects = *maxRedirects
		opts.AllowHTTP = *allowHTTP
		opts.TruncateOnLimit = *truncate
		opts.FallbackToGetOnHeadFailure = *fallbackGet
		runFetch(engine, fetchCmd.Arg(0), opts)

	case "verify":
		verifyCmd := flag.NewFlagSet("verify", flag.ExitOnError)
		method := verifyCmd.String("method", "", "Verification method (dns_txt, html_file, meta_tag); empty tries all")
		_ = verifyCmd.Parse(args[1:])
		if verifyCmd.NArg() != 2 {
			logger.Error("usage: verify [flags] <domain> <token>")
			os.Exit(1)
		}
		runVerify(engine, verifyCmd.Arg(0), verifyCmd.Arg(1), *method)

	case "token":
		runToken(engine)

	case "instructions":
		instrCmd := flag.NewFlagSet("instructions", flag.ExitOnError)
		method := instrCmd.String("method", string(verify.MethodDNSTXT), "Verification method to explain")
		_ = instrCmd.Parse(args[1:])
		if instrCmd.NArg() != 2 {
			logger.Error("usage: instructions [flags] <domain> <token>")
			os.Exit(1)
		}
		runInstructions(engine, instrCmd.Arg(0), instrCmd.Arg(1), *method)

	case "providers":
		runProviders(engine)

	case "guard":
		guardCmd := flag.NewFlagSet("guard", flag.ExitOnError)
		addr := guardCmd.String("addr", "", "Listen address; empty uses the configured one")
		_ = guardCmd.Parse(args[1:])
		runGuard(engine, *addr)

	default:
		logger.Error("unknown subcommand", "command", args[0], "available", subcommands)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.FileConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFileConfig(path)
}

func runResolve(engine interfaces.Engine, host string) {
	logger := logging.GetLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addrs, err := engine.ResolveHostAll(ctx, host)
	if err != nil {
		logger.Error("Resolution failed", "host", host, "error", err)
		os.Exit(1)
	}
	for _, a := range addrs {
		fmt.Printf("%s\tIPv%d\n", a.IP, a.Family)
	}
}

func runFetch(engine interfaces.Engine, rawURL string, opts *fetch.Options) {
	logger := logging.GetLogger()
	// Leave headroom past the fetch deadline so the engine reports its
	// own timeout instead of a bare context error.
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout+2*time.Second)
	defer cancel()

	res, err := engine.SafeFetch(ctx, rawURL, opts)
	if err != nil {
		logger.Error("Fetch refused", "url", rawURL, "code", string(fetch.CodeOf(err)), "error", err)
		os.Exit(1)
	}

	logger.Info("Fetch completed",
		"status", res.Status, "final_url", res.FinalURL,
		"bytes", len(res.Body), "truncated", res.Truncated)
	if _, err := os.Stdout.Write(res.Body); err != nil {
		logger.Error("Failed to write body", "error", err)
		os.Exit(1)
	}
}

func runVerify(engine interfaces.Engine, domain, token, method string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var res verify.Result
	if method == "" {
		res = engine.VerifyDomainAll(ctx, domain, token)
	} else {
		res = engine.VerifyDomain(ctx, domain, token, verify.Method(method))
	}

	if res.Verified {
		fmt.Printf("verified\t%s\t%s\n", domain, res.Method)
		return
	}
	if res.Detail != "" {
		fmt.Printf("unverified\t%s\t%s\n", domain, res.Detail)
	} else {
		fmt.Printf("unverified\t%s\n", domain)
	}
	os.Exit(1)
}

func runToken(engine interfaces.Engine) {
	token, err := engine.NewVerificationToken()
	if err != nil {
		logging.GetLogger().Error("Failed to mint a token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func runInstructions(engine interfaces.Engine, domain, token, method string) {
	set, err := engine.VerificationInstructions(domain, token, verify.Method(method))
	if err != nil {
		logging.GetLogger().Error("Failed to build instructions", "error", err)
		os.Exit(1)
	}

	fmt.Println(set.Title)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	for _, f := range set.Fields {
		fmt.Fprintf(w, "%s\t%s\n", f.Label, f.Value)
	}
	w.Flush()
}

func runProviders(engine interfaces.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := engine.CheckProviders(ctx)

	// Print results in a nice table format.
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	fmt.Fprintln(w, "PROVIDER\tSTATUS\tLATENCY\tSMOOTHED")
	fmt.Fprintln(w, "--------\t------\t-------\t--------")
	for _, r := range results {
		status := "FAIL"
		latency := "N/A"
		smoothed := "N/A"
		if r.Healthy {
			status = "HEALTHY"
			latency = r.Latency.String()
			smoothed = r.Smoothed.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Provider.Key, status, latency, smoothed)
	}
	w.Flush()
}

func runGuard(engine interfaces.Engine, addr string) {
	logger := logging.GetLogger()

	bound, err := engine.StartGuard(context.Background(), addr)
	if err != nil {
		logger.Error("Guard failed to start", "error", err)
		os.Exit(1)
	}
	logger.Info("Guard started. Press Ctrl+C to exit.", "addr", bound)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("Received shutdown signal, stopping guard...")
	if err := engine.Stop(); err != nil {
		logger.Error("Error stopping guard", "error", err)
	}
	logger.Info("Guard stopped.")
}
