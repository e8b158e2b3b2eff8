package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/28Pollux28/zync/internal/loadtest"
)

func main() {
	var cfg loadtest.Config

	flag.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "Gateway base URL")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "JWT secret (defaults to JWT_SECRET env var)")
	flag.StringVar(&cfg.ChallengeID, "challenge", "", "Challenge id to start for every team")
	flag.StringVar(&cfg.Role, "role", "team", "JWT role claim")
	flag.IntVar(&cfg.Teams, "teams", 100, "Number of teams to simulate")
	flag.IntVar(&cfg.Concurrency, "concurrency", 100, "Number of teams running at once")
	flag.StringVar(&cfg.TeamPrefix, "team-prefix", "lt-", "Team code prefix")
	flag.IntVar(&cfg.TeamStart, "team-start", 1, "First team number")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 20*time.Second, "HTTP request timeout")
	flag.DurationVar(&cfg.PollInterval, "interval", 2*time.Second, "Time between two polls of a team")
	flag.DurationVar(&cfg.Ceiling, "ceiling", 45*time.Second, "Give up on a team after this long")
	flag.BoolVar(&cfg.InsecureTLS, "insecure", false, "Skip TLS verification")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := loadtest.Run(ctx, cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadtest error: %v\n", err)
		os.Exit(1)
	}
	if len(report.Violations) > 0 {
		os.Exit(2)
	}
}
