package main

import (
	"fmt"
	"os"

	"github.com/yungbote/neurobridge-backend/internal/app"
	"github.com/yungbote/neurobridge-backend/internal/platform/envutil"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	runWorker := envutil.Bool("RUN_WORKER", true)
	a.Start(runWorker)

	addr := ":" + a.Cfg.Port
	fmt.Printf("Kernel listening on %s\n", addr)
	if err := a.Run(addr); err != nil {
		a.Log.Warn("server stopped", "error", err)
	}
}
