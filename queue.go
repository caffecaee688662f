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

package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/recon/config"
	"github.com/blnkfinance/recon/internal/apierror"
	"github.com/blnkfinance/recon/internal/expression"
	redis_db "github.com/blnkfinance/recon/internal/redis-db"
	"github.com/blnkfinance/recon/model"
)

// Queue represents a queue for background rule executions and ingestion batches.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
// - error: An error if the Redis address cannot be parsed.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %w", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
	}, nil
}

// EnqueueRuleExecution queues a rule execution for the workers.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - opts ExecuteOptions: The execution to run.
//
// Returns:
// - *asynq.TaskInfo: The queued task.
// - error: An error if the task could not be enqueued.
func (q *Queue) EnqueueRuleExecution(ctx context.Context, opts ExecuteOptions) (*asynq.TaskInfo, error) {
	ctx, span := tracer.Start(ctx, "Adding rule execution to queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}

	queueName := cfg.Queue.ExecutionQueue
	task := asynq.NewTask(queueName, payload,
		asynq.TaskID(model.GenerateUUIDWithSuffix("exec")),
		asynq.Queue(queueName),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"rule_id": opts.RuleID, "task_id": info.ID}).Info("rule execution queued")
	return info, nil
}

// EnqueueIngestion queues an ingestion batch. Batches of the same source land on the same
// queue so they are processed one after another.
func (q *Queue) EnqueueIngestion(ctx context.Context, req model.IngestRequest) (*asynq.TaskInfo, error) {
	ctx, span := tracer.Start(ctx, "Adding ingestion batch to queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	queueName := IngestionQueueName(cfg.Queue, req.SourceID)
	task := asynq.NewTask(queueName, payload,
		asynq.TaskID(model.GenerateUUIDWithSuffix("ingest")),
		asynq.Queue(queueName),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"source_id": req.SourceID, "rows": len(req.Rows), "task_id": info.ID}).Info("ingestion batch queued")
	return info, nil
}

// IngestionQueueName returns the numbered ingestion queue a source is hashed onto.
func IngestionQueueName(cfg config.QueueConfig, sourceID string) string {
	n := cfg.NumberOfIngestionQueues
	if n <= 0 {
		n = 1
	}
	return fmt.Sprintf("%s_%d", cfg.IngestionQueue, hashSourceID(sourceID)%n+1)
}

// IngestionQueueNames lists every numbered ingestion queue.
func IngestionQueueNames(cfg config.QueueConfig) []string {
	names := make([]string, 0, cfg.NumberOfIngestionQueues)
	for i := 1; i <= cfg.NumberOfIngestionQueues; i++ {
		names = append(names, fmt.Sprintf("%s_%d", cfg.IngestionQueue, i))
	}
	return names
}

// hashSourceID returns a consistent hash value for a source id.
func hashSourceID(sourceID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(sourceID))
	return int(hasher.Sum32())
}

// ProcessRuleExecution is the worker handler for queued rule executions. Configuration and
// expression errors are not retried.
func (r *Recon) ProcessRuleExecution(ctx context.Context, t *asynq.Task) error {
	var opts ExecuteOptions
	if err := json.Unmarshal(t.Payload(), &opts); err != nil {
		logrus.Error(err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	result, err := r.ExecuteRule(ctx, opts)
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logrus.WithError(err).WithField("rule_id", opts.RuleID).Info("rule execution pushed back for retry")
		return err
	}
	logrus.WithFields(logrus.Fields{
		"rule_id":            result.RuleID,
		"recon_group_number": result.ReconGroupNumber,
		"matched":            result.MatchedCount,
	}).Info(" [*] Rule execution processed")
	return nil
}

// ProcessIngestion is the worker handler for queued ingestion batches. Invalid requests are
// not retried.
func (r *Recon) ProcessIngestion(ctx context.Context, t *asynq.Task) error {
	var req model.IngestRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		logrus.Error(err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	result, err := r.DetectDuplicatesAndInsert(ctx, req)
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	logrus.WithFields(logrus.Fields{
		"source_id":  req.SourceID,
		"inserted":   result.Inserted,
		"duplicates": result.Duplicates,
	}).Info(" [*] Ingestion batch processed")
	return nil
}

func permanent(err error) bool {
	var configErr *ConfigurationError
	var securityErr *expression.SecurityValidationError
	var syntaxErr *expression.SyntaxError
	return errors.As(err, &configErr) || errors.As(err, &securityErr) || errors.As(err, &syntaxErr) ||
		apierror.HasCode(err, apierror.ErrInvalidInput)
}
