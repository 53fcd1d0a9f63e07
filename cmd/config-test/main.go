package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chrissnell/snowrunner/internal/forcing"
	"github.com/chrissnell/snowrunner/internal/kernel"
	"github.com/chrissnell/snowrunner/pkg/config"
	"gopkg.in/yaml.v2"
)

func main() {
	var (
		cfgFile   = flag.String("config", "", "Path to the run configuration (YAML)")
		effective = flag.Bool("effective", false, "Print the configuration with defaults applied")
	)
	flag.Parse()

	if *cfgFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -config <config.yaml> [-effective]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("Configuration Check")
	fmt.Println("===================")
	fmt.Printf("Loading configuration: %s\n", *cfgFile)
	cfg, err := config.NewYAMLProvider(*cfgFile).LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Configuration is valid")

	if *effective {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error rendering configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		fmt.Print(string(out))
	}

	start, end, _ := cfg.Range()
	fmt.Printf("\nRun: %s to %s, %d data steps of %s\n", start.Format(config.TimeLayout), end.Format(config.TimeLayout),
		int(end.Sub(start)/cfg.Time.DataStep), cfg.Time.DataStep)

	failed := false
	if !checkTimesteps(cfg) {
		failed = true
	}
	if !checkInputs(cfg) {
		failed = true
	}
	if failed {
		fmt.Println("\nCheck completed with problems")
		os.Exit(1)
	}
	fmt.Println("\nCheck completed!")
}

func checkTimesteps(cfg *config.ConfigData) bool {
	fmt.Println("\nTimestep table:")
	m := cfg.Model
	mode, err := kernel.ParseOutputMode(m.OutputMode)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return false
	}
	var thresholds [3]float64
	copy(thresholds[:], m.MassThresholds)
	table, err := kernel.NewTimestepTable(cfg.Time.DataStep, m.NormalStep, m.MediumStep, m.SmallStep, thresholds, mode)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return false
	}
	for _, ts := range table {
		fmt.Printf("  %-7s %8.0fs  x%-3d below %5.1f kg/m²\n", ts.Level, ts.StepSeconds, ts.Intervals, ts.MassThreshold)
	}
	return true
}

func checkInputs(cfg *config.ConfigData) bool {
	fmt.Println("\nInputs:")
	ok := checkFile("topo", cfg.Topo.Path, true)

	names := cfg.Forcing.Variables
	if len(names) == 0 {
		names = forcing.Variables
	}
	found := 0
	for _, name := range names {
		// Missing forcing is zero-filled at run time, so it only warns.
		if checkFile("forcing "+name, filepath.Join(cfg.Forcing.Dir, name+".nc"), false) {
			found++
		}
	}
	if found == 0 {
		fmt.Printf("✗ no forcing files in %s\n", cfg.Forcing.Dir)
		ok = false
	}

	if cfg.Initial.Path != "" {
		ok = checkFile("initial conditions", cfg.Initial.Path, true) && ok
	}
	if cfg.Update.Enabled {
		ok = checkFile("survey list", cfg.Update.File, true) && ok
	}
	if cfg.Restart.Enabled && cfg.Restart.Discovery == "fixed" {
		ok = checkFile("restart snapshot", cfg.Restart.Path, true) && ok
	}
	return ok
}

func checkFile(what, path string, required bool) bool {
	if _, err := os.Stat(path); err != nil {
		mark := "!"
		if required {
			mark = "✗"
		}
		fmt.Printf("%s %s: %v\n", mark, what, err)
		return false
	}
	fmt.Printf("✓ %s: %s\n", what, path)
	return true
}
