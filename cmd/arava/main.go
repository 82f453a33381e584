package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	appservices "github.com/aravanet/arava/application/services"
	"github.com/aravanet/arava/domain/entities"
	"github.com/aravanet/arava/domain/services"
	"github.com/aravanet/arava/infrastructure/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	cfgFile    string
	target     string
	verbosity  int
	configure  bool
	commitName string
	skipCheck  bool
	timeoutSec int
)

var rootCmd = &cobra.Command{
	Use:   "arava <command> [command ...]",
	Short: "Run CLI commands on DNOS devices over SSH or Telnet",
	Long: "Arava connects to a network device from a YAML inventory, runs a command batch with " +
		"correct prompt handling, and can apply configuration commands with a validated commit.",
	Version: fmt.Sprintf("%s (built %s)", version, buildTime),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if target == "" {
			return fmt.Errorf("--target is required and must match a device in the YAML inventory")
		}
		if verbosity < 0 || verbosity > 3 {
			return fmt.Errorf("--verbose must be 0, 1, 2, or 3")
		}

		cfg, err := config.Load(cfgFile, verbosity)
		if err != nil {
			return err
		}
		device, err := cfg.Device(target)
		if err != nil {
			return err
		}

		service := appservices.NewDeviceApplicationService(device)
		if err := service.Open(); err != nil {
			return err
		}
		defer service.Close()

		timeout := time.Duration(timeoutSec) * time.Second

		if configure {
			result, err := service.ApplyConfig(args, commitName, timeout, !skipCheck)
			if err != nil {
				return err
			}
			if !result.Done {
				return fmt.Errorf("commit failed on %s: %s", device.Target, result.Reason)
			}
			if result.Reason != "" {
				fmt.Printf("Commit on %s: %s\n", device.Target, result.Reason)
			} else {
				fmt.Printf("Commit on %s succeeded\n", device.Target)
			}
			return nil
		}

		output, err := service.RunShow(args, timeout)
		if err != nil {
			return err
		}
		printOutput(output)
		return nil
	},
}

func printOutput(output *services.ExecOutput) {
	switch output.Shape() {
	case entities.ShapeList:
		for _, entry := range output.List() {
			fmt.Println(entry)
		}
	case entities.ShapeMap:
		// Print in execution order rather than map order
		seen := make(map[string]bool)
		rendered := output.Map()
		for _, rec := range output.Records() {
			if seen[rec.Command] {
				continue
			}
			seen[rec.Command] = true
			fmt.Printf("== %s\n", rec.Command)
			for _, entry := range rendered[rec.Command] {
				fmt.Println(entry)
			}
		}
	default:
		fmt.Print(output.Text())
	}
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "config.yaml", "YAML inventory file")
	rootCmd.Flags().StringVar(&target, "target", "", "device target (must match a target in the YAML inventory)")
	rootCmd.Flags().IntVar(&verbosity, "verbose", 0, "verbosity level: 0=none, 1=debug logs, 2=raw device output, 3=debug+raw output")
	rootCmd.Flags().BoolVar(&configure, "configure", false, "run the commands in configuration mode and commit")
	rootCmd.Flags().StringVar(&commitName, "commit-name", "", "commit label (default synthesized from the current time)")
	rootCmd.Flags().BoolVar(&skipCheck, "skip-commit-check", false, "skip the validation step before committing")
	rootCmd.Flags().IntVar(&timeoutSec, "timeout", 0, "per-command timeout in seconds (0 uses the session default)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
