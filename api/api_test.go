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

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/recon"
	"github.com/blnkfinance/recon/config"
	"github.com/blnkfinance/recon/database/mocks"
	"github.com/blnkfinance/recon/internal/apierror"
	redlock "github.com/blnkfinance/recon/internal/lock"
	"github.com/blnkfinance/recon/internal/request"
	"github.com/blnkfinance/recon/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response == nil {
		return resp, nil
	}
	err := json.NewDecoder(resp.Body).Decode(&s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *mocks.MockDataSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		ProjectName: "recon",
		Redis:       config.RedisConfig{Dns: mr.Addr()},
		Queue: config.QueueConfig{
			ExecutionQueue:          "recon_execution",
			IngestionQueue:          "recon_ingestion",
			NumberOfIngestionQueues: 2,
			MaxRetryAttempts:        3,
		},
		Matching: config.MatchingConfig{
			LoadParallelism:    2,
			MaxTuplesPerKey:    1000,
			LockTimeoutSeconds: 60,
			DryRunSampleSize:   10,
			WriteRetries:       1,
			UnmatchedBatchSize: 100,
		},
		Ingestion: config.IngestionConfig{
			NumberOfJobs:    1,
			MaxLookupBatch:  100,
			InsertBatchSize: 100,
			DuplicatePolicy: "suppress",
		},
	})

	ds := new(mocks.MockDataSource)
	r, err := recon.NewRecon(ds)
	require.NoError(t, err)
	return NewAPI(r).Router(), ds, mr
}

func testRule(sources ...string) *model.MatchingRule {
	return &model.MatchingRule{
		RuleID:    "rule_1",
		ChannelID: "ATM",
		Name:      gofakeit.Name(),
		Status:    model.RuleStatusActive,
		Conditions: model.RuleConditions{
			SchemaVersion: model.CurrentRuleSchemaVersion,
			Sources:       sources,
		},
	}
}

func testTxn(id int64, source, ref string) *model.Transaction {
	return &model.Transaction{
		ID:              id,
		TransactionID:   model.GenerateUUIDWithSuffix("txn"),
		ChannelID:       "ATM",
		SourceID:        source,
		Source:          source,
		ReferenceNumber: ref,
		Amount:          decimal.NewFromInt(100),
		Date:            time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestHealthRoute(t *testing.T) {
	router, _, _ := setupRouter(t)
	var response string
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/", Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "server running...", response)
}

func TestCreateMatchingRule(t *testing.T) {
	router, ds, _ := setupRouter(t)
	var stored *model.MatchingRule
	ds.On("CreateMatchingRule", mock.Anything, mock.AnythingOfType("*model.MatchingRule")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*model.MatchingRule) }).
		Return(testRule("ATM", "SWITCH"), nil)

	payload, err := request.ToJsonReq(map[string]interface{}{
		"name":       gofakeit.Name(),
		"channel_id": "ATM",
		"conditions": map[string]interface{}{
			"sources":          []string{"ATM", "SWITCH"},
			"logic_expression": "ATM.reference_number == SWITCH.reference_number",
		},
	})
	require.NoError(t, err)

	var response model.MatchingRule
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodPost, Route: "/rules", Payload: payload, Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "rule_1", response.RuleID)
	require.NotNil(t, stored)
	assert.Equal(t, model.RuleStatusActive, stored.Status)
}

func TestCreateMatchingRuleRejectsUnsafeExpression(t *testing.T) {
	router, ds, _ := setupRouter(t)
	payload, err := request.ToJsonReq(map[string]interface{}{
		"name":       "unsafe",
		"channel_id": "ATM",
		"conditions": map[string]interface{}{
			"sources":          []string{"ATM", "SWITCH"},
			"logic_expression": "__import__('os').system('ls')",
		},
	})
	require.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodPost, Route: "/rules", Payload: payload, Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(apierror.ErrInvalidInput), response["code"])
	ds.AssertNotCalled(t, "CreateMatchingRule", mock.Anything, mock.Anything)
}

func TestGetMatchingRuleNotFound(t *testing.T) {
	router, ds, _ := setupRouter(t)
	ds.On("GetMatchingRule", mock.Anything, "rule_missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "matching rule not found", nil))

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/rules/rule_missing", Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetMatchingRules(t *testing.T) {
	router, ds, _ := setupRouter(t)
	ds.On("GetMatchingRules", mock.Anything, "ATM", 5, 10).Return([]*model.MatchingRule{testRule("ATM", "SWITCH")}, nil)

	var response []model.MatchingRule
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/rules?channel_id=ATM&limit=5&offset=10", Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, response, 1)

	resp, err = SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/rules?limit=500", Response: &map[string]interface{}{}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestDeactivateMatchingRule(t *testing.T) {
	router, ds, _ := setupRouter(t)
	ds.On("DeactivateMatchingRule", mock.Anything, "rule_1").Return(nil)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodDelete, Route: "/rules/rule_1", Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	ds.AssertExpectations(t)
}

func TestExecuteRuleDryRun(t *testing.T) {
	router, ds, _ := setupRouter(t)
	ds.On("GetMatchingRule", mock.Anything, "rule_1").Return(testRule("ATM", "SWITCH"), nil)
	ds.On("GetUnmatchedTransactions", mock.Anything, "ATM", "ATM").Return([]*model.Transaction{testTxn(1, "ATM", "R1"), testTxn(3, "ATM", "R2")}, nil)
	ds.On("GetUnmatchedTransactions", mock.Anything, "ATM", "SWITCH").Return([]*model.Transaction{testTxn(2, "SWITCH", "R1")}, nil)

	payload, err := request.ToJsonReq(map[string]interface{}{"dry_run": true})
	require.NoError(t, err)

	var response model.ExecutionResult
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodPost, Route: "/rules/rule_1/execute", Payload: payload, Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, response.DryRun)
	assert.Equal(t, 2, response.MatchedCount)
	assert.Equal(t, 1, response.UnmatchedCount)
	assert.ElementsMatch(t, []int64{1, 2}, response.TransactionIDs)
	ds.AssertNotCalled(t, "RecordRun", mock.Anything, mock.Anything)
}

func TestExecuteRuleErrors(t *testing.T) {
	tests := []struct {
		name         string
		body         map[string]interface{}
		rule         *model.MatchingRule
		ruleErr      error
		expectedCode int
	}{
		{
			name:         "unknown rule",
			body:         map[string]interface{}{},
			ruleErr:      apierror.NewAPIError(apierror.ErrNotFound, "matching rule not found", nil),
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "single source",
			body:         map[string]interface{}{},
			rule:         testRule("ATM"),
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "min sources above source count",
			body:         map[string]interface{}{"min_sources": 3, "dry_run": true},
			rule:         testRule("ATM", "SWITCH"),
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "queued dry run",
			body:         map[string]interface{}{"dry_run": true, "async": true},
			rule:         testRule("ATM", "SWITCH"),
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, ds, _ := setupRouter(t)
			ds.On("GetMatchingRule", mock.Anything, "rule_1").Return(tt.rule, tt.ruleErr)

			payload, err := request.ToJsonReq(tt.body)
			require.NoError(t, err)

			var response map[string]interface{}
			resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodPost, Route: "/rules/rule_1/execute", Payload: payload, Response: &response})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestExecuteRuleLockHeld(t *testing.T) {
	router, ds, mr := setupRouter(t)
	ds.On("GetMatchingRule", mock.Anything, "rule_1").Return(testRule("ATM", "SWITCH"), nil)
	require.NoError(t, mr.Set(redlock.ExecutionKey("rule_1", "ATM"), "RG-other"))

	payload, err := request.ToJsonReq(map[string]interface{}{})
	require.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodPost, Route: "/rules/rule_1/execute", Payload: payload, Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Code)
	ds.AssertNotCalled(t, "RecordRun", mock.Anything, mock.Anything)
}

func TestExecuteRuleAsync(t *testing.T) {
	router, _, _ := setupRouter(t)
	payload, err := request.ToJsonReq(map[string]interface{}{"async": true, "channel_id": "POS"})
	require.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodPost, Route: "/rules/rule_1/execute", Payload: payload, Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, "recon_execution", response["queue"])
	assert.Contains(t, response["task_id"], "exec_")
}

func TestGetRun(t *testing.T) {
	router, ds, _ := setupRouter(t)
	ds.On("GetRun", mock.Anything, "RG-1").Return(&model.ReconciliationRun{ReconGroupNumber: "RG-1", RuleID: "rule_1"}, nil)

	var response model.ReconciliationRun
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/runs/RG-1", Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "rule_1", response.RuleID)
}

func TestGetRunTransactions(t *testing.T) {
	router, ds, _ := setupRouter(t)
	ds.On("GetRun", mock.Anything, "RG-1").Return(&model.ReconciliationRun{ReconGroupNumber: "RG-1", RuleID: "rule_1"}, nil)
	ds.On("GetTransactionsByGroupNumber", mock.Anything, "RG-1").Return([]*model.Transaction{
		{ID: 1, Source: "ATM", ReconGroupNumber: "RG-1", MatchStatus: model.MatchStatusMatched},
		{ID: 2, Source: "SWITCH", ReconGroupNumber: "RG-1", MatchStatus: model.MatchStatusMatched},
	}, nil)

	var response []model.Transaction
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/runs/RG-1/transactions", Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, response, 2)
	assert.Equal(t, "SWITCH", response[1].Source)
}

func TestGetRunTransactionsUnknownRun(t *testing.T) {
	router, ds, _ := setupRouter(t)
	ds.On("GetRun", mock.Anything, "RG-404").Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Run 'RG-404' not found", nil))

	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/runs/RG-404/transactions"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	ds.AssertNotCalled(t, "GetTransactionsByGroupNumber", mock.Anything, mock.Anything)
}

func ingestPayload(async bool) map[string]interface{} {
	return map[string]interface{}{
		"channel_id": "ATM",
		"source_id":  "switch_feed",
		"source":     "SWITCH",
		"async":      async,
		"rows": []map[string]interface{}{
			{"reference_number": "R1", "amount": "100.00", "date": "2024-01-15"},
			{"reference_number": "R2", "amount": "50.00", "date": "2024-01-15"},
		},
	}
}

func TestIngest(t *testing.T) {
	router, ds, _ := setupRouter(t)
	ds.On("FindExistingDuplicateKeys", mock.Anything, mock.Anything, false).Return(nil, nil)
	ds.On("InsertTransactions", mock.Anything, mock.Anything).Return(2, nil)

	payload, err := request.ToJsonReq(ingestPayload(false))
	require.NoError(t, err)

	var response model.IngestResult
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodPost, Route: "/ingestion", Payload: payload, Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, 2, response.Inserted)
	assert.Zero(t, response.Duplicates)
}

func TestIngestAsync(t *testing.T) {
	router, ds, mr := setupRouter(t)

	payload, err := request.ToJsonReq(ingestPayload(true))
	require.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodPost, Route: "/ingestion", Payload: payload, Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Code)

	conf, err := config.Fetch()
	require.NoError(t, err)
	assert.Equal(t, recon.IngestionQueueName(conf.Queue, "switch_feed"), response["queue"])
	assert.True(t, mr.Exists("asynq:{"+response["queue"].(string)+"}:pending"))
	ds.AssertNotCalled(t, "InsertTransactions", mock.Anything, mock.Anything)
}

func TestIngestValidation(t *testing.T) {
	router, _, _ := setupRouter(t)
	body := ingestPayload(false)
	delete(body, "source_id")

	payload, err := request.ToJsonReq(body)
	require.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodPost, Route: "/ingestion", Payload: payload, Response: &response})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRespondErrorDefaultsToInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondError(c, context.DeadlineExceeded)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
