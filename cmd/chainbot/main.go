// Command chainbot runs the demo conversation chains on Telegram.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/m3rciful/chainbot/core/buildinfo"
	corecmd "github.com/m3rciful/chainbot/core/cmd"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config (defaults to $CONFIG_PATH)")
	showVersion := pflag.BoolP("version", "v", false, "print the build version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("chainbot %s (%s) %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return
	}

	err := corecmd.Run(corecmd.Options{
		ConfigPath:        *configPath,
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "configs/chainbot.yaml",
		LoadConfig:        loadConfig,
		Bootstrap:         newApp,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
