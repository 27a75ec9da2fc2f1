package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/darkodi/shortlink/internal/client"
	"github.com/darkodi/shortlink/internal/model"
)

const usage = `usage: shortctl [-server URL] [-token TOKEN] <command> [args]

commands:
  shorten -url URL [-code CODE] [-domain DOMAIN] [-expires DAYS]
  list [-page N] [-limit N]
  get CODE
  delete CODE
  analytics CODE
  resolve CODE
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("shortctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }

	server := global.String("server", envOr("SHORTLINK_SERVER", "http://localhost:8080"), "server base URL")
	token := global.String("token", os.Getenv("SHORTLINK_TOKEN"), "bearer token")
	timeout := global.Duration("timeout", 5*time.Second, "request timeout")

	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() < 1 {
		global.Usage()
		return 2
	}

	c := client.New(*server, client.WithToken(*token), client.WithTimeout(*timeout))

	out, err := dispatch(ctx, c, global.Arg(0), global.Args()[1:], stderr)
	if errors.Is(err, errUsage) {
		fmt.Fprint(stderr, usage)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "shortctl: %v\n", err)
		return 1
	}

	if out != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "shortctl: %v\n", err)
			return 1
		}
	}
	return 0
}

func dispatch(ctx context.Context, c *client.Client, cmd string, args []string, stderr io.Writer) (any, error) {
	switch cmd {
	case "shorten":
		fs := flag.NewFlagSet("shorten", flag.ContinueOnError)
		fs.SetOutput(stderr)
		url := fs.String("url", "", "URL to shorten (required)")
		code := fs.String("code", "", "custom short code")
		domain := fs.String("domain", "", "display domain for the short URL")
		expires := fs.Float64("expires", 0, "days until expiry, fractions allowed")
		if err := fs.Parse(args); err != nil {
			return nil, errUsage
		}
		if *url == "" {
			return nil, errUsage
		}

		req := model.ShortenRequest{OriginalURL: *url, CustomCode: *code, CustomDomain: *domain}
		if *expires > 0 {
			req.ExpiresIn = expires
		}
		return c.Shorten(ctx, req)

	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		fs.SetOutput(stderr)
		page := fs.Int("page", 1, "page number")
		limit := fs.Int("limit", 20, "items per page")
		if err := fs.Parse(args); err != nil {
			return nil, errUsage
		}
		return c.List(ctx, *page, *limit)

	case "get", "delete", "analytics", "resolve":
		if len(args) != 1 {
			return nil, errUsage
		}
		code := args[0]

		switch cmd {
		case "get":
			return c.Get(ctx, code)
		case "delete":
			if err := c.Delete(ctx, code); err != nil {
				return nil, err
			}
			return map[string]string{"message": "deleted " + code}, nil
		case "analytics":
			return c.Analytics(ctx, code)
		default:
			return c.Resolve(ctx, code)
		}
	}

	return nil, errUsage
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
