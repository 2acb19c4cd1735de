package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/inboxpilot/usagecap/internal/config"
	"github.com/spf13/cobra"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	DBPath  string
	Verbose bool
	JSON    bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "usagecap",
	Short: "usagecap - monthly lead caps and usage notifications",
	Long: `usagecap meters inbound leads per tenant against a monthly cap,
gates draft generation once a tenant is at its cap, and sends
once-per-month warning, limit, follow-up and reset notices.

Usage:
  usagecap [command] [flags]

Available Commands:
  serve      Start the HTTP API and the daily scheduler
  pass       Run one daily notification pass
  usage      Show current-month usage for tenants
  tenants    List, add and remove tenants
  check      Validate configuration and connectivity
  version    Print version information

Flags:
  --config string   Path to configuration file (default "config.yaml")
  --db string       Path to SQLite database (overrides store.path)
  --verbose         Enable verbose output
  --json            Output in JSON format

Use "usagecap [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// InitRoot initializes the root command with global flags
func InitRoot() {
	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", config.PathFromEnv(), "Path to configuration file")
	RootCmd.PersistentFlags().StringVar(&globalFlags.DBPath, "db", os.Getenv("USAGECAP_DB_PATH"), "Path to SQLite database (overrides store.path)")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of usagecap",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd)
	},
}

var globalFlags GlobalFlags

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

func printVersion(cmd *cobra.Command) {
	info := GetVersionInfo()
	out := cmd.OutOrStdout()
	if globalFlags.JSON {
		_ = writeJSON(out, info)
		return
	}
	fmt.Fprintln(out, "usagecap version:", info.Version)
	fmt.Fprintln(out, "Go version:", info.GoVersion)
	fmt.Fprintln(out, "OS/Arch:", info.OS+"/"+info.Arch)
	fmt.Fprintln(out, "Build date:", info.BuildDate)
}

// Build metadata, set with -ldflags "-X".
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// VersionInfo contains version information
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	BuildDate string `json:"build_date"`
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		BuildDate: BuildDate,
	}
}
