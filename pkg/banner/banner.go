package banner

import (
	"fmt"

	"personaproxy/pkg/config"
)

const banner = `
██████╗ ███████╗██████╗ ███████╗ ██████╗ ███╗   ██╗ █████╗     ██████╗ ██████╗  ██████╗ ██╗  ██╗██╗   ██╗
██╔══██╗██╔════╝██╔══██╗██╔════╝██╔═══██╗████╗  ██║██╔══██╗    ██╔══██╗██╔══██╗██╔═══██╗╚██╗██╔╝╚██╗ ██╔╝
██████╔╝█████╗  ██████╔╝███████╗██║   ██║██╔██╗ ██║███████║    ██████╔╝██████╔╝██║   ██║ ╚███╔╝  ╚████╔╝
██╔═══╝ ██╔══╝  ██╔══██╗╚════██║██║   ██║██║╚██╗██║██╔══██║    ██╔═══╝ ██╔══██╗██║   ██║ ██╔██╗   ╚██╔╝
██║     ███████╗██║  ██║███████║╚██████╔╝██║ ╚████║██║  ██║    ██║     ██║  ██║╚██████╔╝██╔╝ ██╗   ██║
╚═╝     ╚══════╝╚═╝  ╚═╝╚══════╝ ╚═════╝ ╚═╝  ╚═══╝╚═╝  ╚═╝    ╚═╝     ╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝
`

// PrintWithEff prints the banner using an EffectiveConfigResult which
// provides richer context (config, addr, dbpath, source).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Ops HTTP:  %s\n", addr)
	fmt.Printf("DB Path:   %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Printf("Config source: %s\n", src)
	if eff.Config != nil {
		if eff.Config.Retention.Enabled {
			fmt.Printf("Retention: enabled (cron %q, period %s)\n", eff.Config.Retention.Cron, eff.Config.Retention.Period)
		} else {
			fmt.Println("Retention: disabled")
		}
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET /healthz - liveness probe")
	fmt.Println("GET /readyz  - readiness probe (store opened)")
	fmt.Println("GET /metrics - Prometheus metrics")
	fmt.Println("\n== Production? =================================================")
	fmt.Println("Set a proper storage path (--db)")
	fmt.Println("Point the engine at your platform adapter instead of the in-memory sink")
}
