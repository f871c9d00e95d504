package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/graphdrive/graphdrive/internal/config"
	"github.com/graphdrive/graphdrive/internal/graph"
)

func newConfigureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Set up app credentials and authorize the account",
		Long: `Interactively collect the registered app's credentials, run the
authorization flow in a browser, and save the resulting refresh token to
the credentials file. Run this once before any other command.`,
		Args: cobra.NoArgs,
		RunE: runConfigure,
	}
}

func runConfigure(cmd *cobra.Command, _ []string) error {
	in := bufio.NewReader(os.Stdin)

	ask := func(prompt, fallback string) (string, error) {
		if fallback != "" {
			fmt.Fprintf(os.Stderr, "%s [%s]: ", prompt, fallback)
		} else {
			fmt.Fprintf(os.Stderr, "%s: ", prompt)
		}

		line, err := in.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			return fallback, nil
		}

		return line, nil
	}

	tenant, err := ask("Tenant", graph.DefaultTenant)
	if err != nil {
		return err
	}

	clientID, err := ask("Client id", "")
	if err != nil {
		return err
	}

	clientSecret, err := ask("Client secret value", "")
	if err != nil {
		return err
	}

	redirectURL, err := ask("Redirect URL", graph.DefaultRedirectURL)
	if err != nil {
		return err
	}

	creds := &config.Credentials{
		TenantID:          tenant,
		ClientID:          clientID,
		ClientSecretValue: clientSecret,
		RedirectURL:       redirectURL,
	}

	logger := buildLogger()

	cred := graph.Credential{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecretValue,
		Tenant:       creds.TenantID,
		RedirectURL:  creds.RedirectURL,
	}

	prompt := graph.ConsolePrompter{In: os.Stdin, Out: os.Stderr}

	// No saved refresh token: this runs the interactive flow end to end
	// and verifies the drive is reachable.
	client, tokens, err := graph.Connect(cmd.Context(), cred, "", prompt, logger)
	if err != nil {
		return err
	}

	creds.RefreshToken = tokens.RefreshToken()

	path := configPath()
	if err := config.Save(path, flagConfigKey, creds); err != nil {
		return err
	}

	info, err := client.DriveDetails(cmd.Context(), false)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Authorized %s drive for %s, credentials saved to %s\n",
		info.Type, info.OwnerName, path)

	return nil
}
