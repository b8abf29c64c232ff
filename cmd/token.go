package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mediashield/go-secure-media-server/services"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/spf13/cobra"
)

var (
	keyFile     string
	policyFile  string
	playbackUrl string
	viewer      types.ViewerAttributes
	headerPairs []string
)

func init() {
	tokenIssueCmd.Flags().StringVarP(&keyFile, "key-file", "k", "", "secret file as written by `secret generate`")
	tokenIssueCmd.Flags().StringVarP(&policyFile, "policy-file", "f", "", "token policy json file")
	tokenIssueCmd.Flags().StringVar(&playbackUrl, "url", "", "playback url to splice the token into")
	tokenIssueCmd.Flags().StringVar(&viewer.IP, "ip", "", "viewer ip")
	tokenIssueCmd.Flags().StringVar(&viewer.Country, "country", "", "viewer country")
	tokenIssueCmd.Flags().StringVar(&viewer.Region, "region", "", "viewer region")
	tokenIssueCmd.Flags().StringVar(&viewer.City, "city", "", "viewer city")
	tokenIssueCmd.Flags().StringVar(&viewer.SessionID, "session", "", "session id")
	tokenIssueCmd.Flags().StringArrayVarP(&headerPairs, "header", "H", nil, "viewer header as name:value (repeatable)")
	tokenIssueCmd.MarkFlagRequired("key-file")
	tokenIssueCmd.MarkFlagRequired("policy-file")
	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Playback tokens",
}

// staticKeys serves a single secret as the primary key
type staticKeys struct {
	secret *types.Secret
}

func (s *staticKeys) KeySet(ctx context.Context) (*types.KeySet, error) {
	return &types.KeySet{Primary: s.secret}, nil
}

// loadStaticKeys reads a secret file and returns it as a key set provider
func loadStaticKeys(path string) (*staticKeys, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	secret, err := types.DecodeSecret(types.SecretRolePrimary, strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, err
	}
	return &staticKeys{secret: secret}, nil
}

func parseHeaders(pairs []string) (map[string]string, error) {
	headers := map[string]string{}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected name:value", p)
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return headers, nil
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a playback token offline",
	Long:  "Issue a playback token from a local secret file without contacting the server or the secret store",
	Run: func(cmd *cobra.Command, args []string) {
		keys, err := loadStaticKeys(keyFile)
		check(err)
		policyBytes, err := os.ReadFile(policyFile)
		check(err)
		var policy types.TokenPolicy
		check(json.Unmarshal(policyBytes, &policy))
		viewer.Headers, err = parseHeaders(headerPairs)
		check(err)

		token, err := services.NewTokenService(keys).Generate(cmd.Context(), &viewer, playbackUrl, &policy, "")
		check(err)
		fmt.Println(token)
	},
}
