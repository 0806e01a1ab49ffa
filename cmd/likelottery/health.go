package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/likelottery/pkg/config"
)

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	target := cmd.String("url", "", "Health endpoint (default http://localhost:$PORT/health)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *target == "" {
		cfg, err := config.Load()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		*target = fmt.Sprintf("http://localhost:%s/health", cfg.Port)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*target)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}
