package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/recon/config"
)

const (
	redacted         = "********"
	redactedPassword = "xxxxx"
)

func configCommands() *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instances computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			out := *cfg
			if !showSecrets {
				out = redactConfig(out)
			}

			data, err := json.MarshalIndent(out, "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print keys and connection passwords as they are")
	return cmd
}

// redactConfig masks the secret key, the webhook url and any password in a connection string.
func redactConfig(cfg config.Configuration) config.Configuration {
	if cfg.Server.SecretKey != "" {
		cfg.Server.SecretKey = redacted
	}
	if cfg.Notification.Slack.WebhookUrl != "" {
		cfg.Notification.Slack.WebhookUrl = redacted
	}
	cfg.DataSource.Dns = redactDSN(cfg.DataSource.Dns)
	cfg.Redis.Dns = redactDSN(cfg.Redis.Dns)
	return cfg
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redactedPassword)
	}
	return u.String()
}
