package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mediashield/go-secure-media-server/services"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/spf13/cobra"
)

var (
	outputFile string
	secretRole string
)

func init() {
	secretGenerateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default is stdout)")
	secretGenerateCmd.Flags().StringVarP(&secretRole, "role", "r", string(types.SecretRolePrimary), "secret role (primary, secondary, temporary)")
	secretCmd.AddCommand(secretGenerateCmd)
	rootCmd.AddCommand(secretCmd)
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Secret management",
}

// secretGenerateCmd mints a signing secret in the stored format {"<id>":"<hex value>"}
var secretGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a signing secret",
	Long:  "Generate a signing secret in the format stored in the secret store",
	Run: func(cmd *cobra.Command, args []string) {
		role := types.SecretRole(secretRole)
		switch role {
		case types.SecretRolePrimary, types.SecretRoleSecondary, types.SecretRoleTemporary:
		default:
			check(fmt.Errorf("unknown role %q", secretRole))
		}
		secret, err := services.NewSecret(role, time.Now().UTC())
		check(err)
		encoded, err := secret.Encode()
		check(err)

		if outputFile == "" {
			fmt.Println(encoded)
			return
		}
		// fail if file already exists
		if _, err := os.Stat(outputFile); !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("File already exists: %s\n", outputFile)
			os.Exit(1)
		}
		check(os.WriteFile(outputFile, []byte(encoded), 0600))
		fmt.Printf("Output file: %s\n", outputFile)
	},
}
