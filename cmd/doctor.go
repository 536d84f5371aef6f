package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/config"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/store"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/store/pg"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/store/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("tono-gateway doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Provider:")
	checkSet("Base URL", cfg.Provider.BaseURL)
	checkSecret("API key", cfg.Provider.APIKey, "TONO_EVOLUTION_API_KEY")
	checkSet("Instance", cfg.Provider.Instance)
	checkSet("Owner phone", cfg.Provider.OwnerPhone)
	checkSet("STT proxy", cfg.Provider.STTProxyURL)
	if cfg.Provider.BaseURL != "" {
		checkReachable(cfg.Provider.BaseURL)
	}

	fmt.Println()
	fmt.Println("  Sessions:")
	backend := store.SelectBackend(cfg.Database.PostgresDSN)
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	checkSessionStore(cfg, backend)

	fmt.Println()
	fmt.Println("  Catalog:")
	if cfg.Catalog.SheetCSVURL != "" {
		fmt.Printf("    %-12s sheet URL\n", "Source:")
	} else if cfg.Catalog.LocalPath != "" {
		path := config.ExpandHome(cfg.Catalog.LocalPath)
		fmt.Printf("    %-12s %s", "Source:", path)
		if _, err := os.Stat(path); err != nil {
			fmt.Println(" (NOT FOUND)")
		} else {
			fmt.Println(" (OK)")
		}
	} else {
		fmt.Printf("    %-12s none (empty inventory)\n", "Source:")
	}

	fmt.Println()
	fmt.Println("  Funnel:")
	if cfg.Funnel.Enabled {
		checkSet("Board", cfg.Funnel.BoardID)
		checkSecret("API token", cfg.Funnel.APIToken, "TONO_FUNNEL_API_TOKEN")
	} else {
		fmt.Printf("    %-12s disabled (stage transitions logged only)\n", "Sync:")
	}

	fmt.Println()
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Result: NOT READY (%s)\n", err)
		return
	}
	fmt.Println("  Result: ready")
}

func checkSet(label, value string) {
	status := "MISSING"
	if value != "" {
		status = "OK"
	}
	fmt.Printf("    %-12s %s\n", label+":", status)
}

func checkSecret(label, value, envVar string) {
	if value != "" {
		fmt.Printf("    %-12s set\n", label+":")
		return
	}
	fmt.Printf("    %-12s MISSING (set %s)\n", label+":", envVar)
}

func checkReachable(baseURL string) {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodGet, baseURL, nil)
	if err != nil {
		fmt.Printf("    %-12s INVALID URL\n", "Reachable:")
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("    %-12s NO (%s)\n", "Reachable:", err)
		return
	}
	resp.Body.Close()
	fmt.Printf("    %-12s yes (%d)\n", "Reachable:", resp.StatusCode)
}

func checkSessionStore(cfg *config.Config, backend store.Backend) {
	switch backend {
	case store.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s, err := pg.Open(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
			return
		}
		s.Close()
		fmt.Printf("    %-12s connected\n", "Status:")
	case store.BackendSQLite:
		path := config.ExpandHome(cfg.Sessions.SQLitePath)
		s, err := sqlite.Open(path)
		if err != nil {
			fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
			return
		}
		s.Close()
		fmt.Printf("    %-12s %s (OK)\n", "Status:", path)
	}
}
