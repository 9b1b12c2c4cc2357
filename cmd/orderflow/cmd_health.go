package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/coinexec/orderflow/internal/interfaces/http"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of a running engine",
	Long: `Queries the health endpoint of a running engine and reports the status
of its dependencies: database, cache, queue, and circuit breakers.

Examples:
  orderflow health
  orderflow health --url http://prod-engine:8080/health --json`,
	RunE:         runHealth,
	SilenceUsage: true,
}

var (
	healthURL     string
	healthJSON    bool
	healthTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().StringVar(&healthURL, "url", "http://localhost:8080/health", "Health endpoint URL")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output health status as JSON")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "Request timeout")
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: healthTimeout}

	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	// Both 200 and 503 carry a full health payload
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, healthURL)
	}

	var health httpserver.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	if healthJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(health); err != nil {
			return err
		}
	} else {
		printHealthText(&health)
	}

	if health.Status != "ok" {
		return fmt.Errorf("engine is %s", health.Status)
	}
	return nil
}

func printHealthText(health *httpserver.HealthResponse) {
	fmt.Printf("Orderflow Health\n")
	fmt.Printf("────────────────\n")
	fmt.Printf("Status:     %s%s%s\n", statusColor(health.Status), strings.ToUpper(health.Status), colorReset)
	fmt.Printf("Version:    %s\n", health.Version)
	fmt.Printf("Uptime:     %s\n", health.Uptime)
	fmt.Printf("Timestamp:  %s\n", health.Timestamp.Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("Goroutines: %d\n", health.System.NumGoroutines)
	fmt.Printf("Memory:     %.1f MB\n", float64(health.System.MemAllocBytes)/(1024*1024))

	if len(health.Checks) == 0 {
		return
	}

	names := make([]string, 0, len(health.Checks))
	for name := range health.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\nChecks\n")
	fmt.Printf("──────\n")
	for _, name := range names {
		result := health.Checks[name]
		color := colorGreen
		if result != "pass" {
			color = colorRed
		}
		fmt.Printf("%-12s %s%s%s\n", name, color, result, colorReset)
	}
}

const (
	colorGreen = "\033[32m"
	colorAmber = "\033[33m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

func statusColor(status string) string {
	switch status {
	case "ok":
		return colorGreen
	case "degraded":
		return colorAmber
	default:
		return colorRed
	}
}
