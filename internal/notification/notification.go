/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/recon/config"
	"github.com/blnkfinance/recon/internal/request"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func buildSlackMessage(title string, fields map[string]string, order []string) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title, Emoji: true}},
	}}
	section := slackBlock{Type: "section"}
	for _, name := range order {
		section.Fields = append(section.Fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", name, fields[name])})
	}
	msg.Blocks = append(msg.Blocks, section)
	return msg
}

// SlackNotification posts a message to the configured Slack webhook.
func SlackNotification(ctx context.Context, webhookURL string, msg slackMessage) error {
	payload, err := request.ToJsonReq(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, payload)
	if err != nil {
		return err
	}
	_, err = request.Call(req, nil)
	return err
}

func send(msg slackMessage) {
	conf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}
	if err := SlackNotification(context.Background(), conf.Notification.Slack.WebhookUrl, msg); err != nil {
		logrus.WithError(err).Error("slack notification failed")
	}
}

// NotifyError logs the error and forwards it to Slack when a webhook is configured.
// It does not block the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		send(buildSlackMessage("Error From Recon 🐞",
			map[string]string{"Error": systemError.Error(), "Time": time.Now().Format(time.RFC822)},
			[]string{"Error", "Time"}))
	}(systemError)
}

// NotifyRunFailed reports a rule execution that ended in the failed state.
func NotifyRunFailed(ruleID, channelID, reconGroupNumber string, runErr error) {
	go func() {
		logrus.WithFields(logrus.Fields{
			"rule_id":            ruleID,
			"channel_id":         channelID,
			"recon_group_number": reconGroupNumber,
		}).WithError(runErr).Error("reconciliation run failed")
		send(buildSlackMessage("Reconciliation Run Failed",
			map[string]string{
				"Rule":    ruleID,
				"Channel": channelID,
				"Run":     reconGroupNumber,
				"Error":   runErr.Error(),
			},
			[]string{"Rule", "Channel", "Run", "Error"}))
	}()
}
