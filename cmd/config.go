package main

import (
	"fmt"

	"github.com/mediashield/go-secure-media-server/global"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

func init() {
	configCmd.AddCommand(configPrintCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration",
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Validate the configuration file and print it with defaults applied",
	Run: func(cmd *cobra.Command, args []string) {
		var conf global.Config
		check(global.LoadConfig(configFile, &conf))
		out, err := yaml.Marshal(redactConfig(conf))
		check(err)
		fmt.Print(string(out))
	},
}

// redactConfig blanks credentials before printing
func redactConfig(conf global.Config) global.Config {
	for _, s := range []*string{&conf.Aws.Secret, &conf.Redis.Password, &conf.Prometheus.Password, &conf.Admin.Password} {
		if *s != "" {
			*s = redacted
		}
	}
	return conf
}
