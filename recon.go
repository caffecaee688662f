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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/recon/config"
	"github.com/blnkfinance/recon/database"
	redis_db "github.com/blnkfinance/recon/internal/redis-db"
)

var tracer = otel.Tracer("recon.engine")

// Recon is the reconciliation engine: rule management, rule execution and ingestion.
type Recon struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewRecon initializes a new instance of Recon with the provided datasource.
// It fetches the configuration and connects the Redis client used for execution locks and the queue.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
//
// Returns:
// - *Recon: A pointer to the newly created Recon instance.
// - error: An error if any of the initialization steps fail.
func NewRecon(db database.IDataSource) (*Recon, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(configuration)
	if err != nil {
		return nil, err
	}
	return &Recon{datasource: db, queue: queue, redis: redisClient.Client()}, nil
}

// Queue exposes the task queue used for background executions and ingestion.
func (r *Recon) Queue() *Queue {
	return r.queue
}
