package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	adminHTTP(args, http.MethodGet, "/admin/v1/state")
}

func snapshotCmd(args []string) {
	adminHTTP(args, http.MethodPost, "/admin/v1/snapshot")
}

func metricsCmd(args []string) {
	adminHTTP(args, http.MethodGet, "/metrics")
}

func adminHTTP(args []string, method, endpoint string) {
	fs := flag.NewFlagSet(strings.TrimPrefix(endpoint, "/"), flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + endpoint
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Print(string(b))
	if !strings.HasSuffix(string(b), "\n") {
		fmt.Println()
	}
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
