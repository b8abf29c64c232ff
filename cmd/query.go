package main

import (
	"fmt"
	"time"

	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/services"
	"github.com/spf13/cobra"
)

func init() {
	queryCmd.AddCommand(queryPrintCmd)
	rootCmd.AddCommand(queryCmd)
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Risk scoring query",
}

var queryPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the risk scoring query for the current time",
	Run: func(cmd *cobra.Command, args []string) {
		var conf global.Config
		check(global.LoadConfig(configFile, &conf))
		fmt.Println(services.BuildRiskQuery(conf.Risk, time.Now().UTC()))
	},
}
