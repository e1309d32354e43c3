// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ravshansbox/rho-sub003/internal/app"
	"github.com/ravshansbox/rho-sub003/internal/rhoconfig"
)

var version = "0.1.0"

func main() {
	var (
		configPath  string
		listen      string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect rho.hjson/rho.json)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&listen, "listen", "", "HTTP/WebSocket listen address (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("rhogatewayd %s\n", version)
		os.Exit(0)
	}

	if configPath == "" {
		loader := rhoconfig.NewLoader()
		if found, err := loader.FindConfig(); err == nil {
			configPath = found
		}
	}
	if configPath != "" {
		log.Printf("Using config: %s", configPath)
	} else {
		log.Printf("No config file found, using defaults")
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Listen:     listen,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("App error: %v", err)
	}
}
