package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	serverUrl  string
	username   string
	password   string
)

func check(e error) {
	if e != nil {
		fmt.Printf("%v\n", e.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mediashield",
	Short:   "Operator tools for the secure media server",
	Long:    `Operator tools for the secure media server: mint secrets, issue tokens offline, print the risk query and trigger revocations and rotations on a running server.`,
	Version: "0.1.0",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "conf.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&serverUrl, "server", "http://localhost:8080", "server base url")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", "", "admin username")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "admin password")
}

func main() {
	Execute()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
