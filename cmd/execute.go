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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/recon"
	"github.com/blnkfinance/recon/model"
)

// executeCommands runs a matching rule from the command line, inline or through the queue.
func executeCommands(r *reconInstance) *cobra.Command {
	var opts recon.ExecuteOptions
	var async bool

	cmd := &cobra.Command{
		Use:   "execute [rule_id]",
		Short: "execute a matching rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RuleID = args[0]
			if async && opts.DryRun {
				return fmt.Errorf("dry runs cannot be queued")
			}

			ctx := context.Background()
			if async {
				info, err := r.recon.Queue().EnqueueRuleExecution(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Printf("Queued rule execution %s on %s\n", info.ID, info.Queue)
				return nil
			}

			result, err := r.recon.ExecuteRule(ctx, opts)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&opts.ChannelID, "channel", "", "channel to reconcile, defaults to the rule's channel")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report matches without writing them")
	cmd.Flags().IntVar(&opts.MinSources, "min-sources", 0, "minimum number of sources in a group")
	cmd.Flags().BoolVar(&async, "async", false, "queue the execution for the workers")

	return cmd
}

// ingestCommands loads an ingestion request from a JSON file.
func ingestCommands(r *reconInstance) *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "ingest transactions from a JSON ingestion request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var req model.IngestRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("invalid ingestion file: %w", err)
			}

			ctx := context.Background()
			if async {
				info, err := r.recon.Queue().EnqueueIngestion(ctx, req)
				if err != nil {
					return err
				}
				fmt.Printf("Queued ingestion %s on %s\n", info.ID, info.Queue)
				return nil
			}

			result, err := r.recon.DetectDuplicatesAndInsert(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "queue the ingestion for the workers")
	return cmd
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		log.Printf("Error printing result: %v", err)
		return err
	}
	fmt.Println(string(data))
	return nil
}
