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

package request_test

import (
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/recon/internal/request"
)

func TestToJsonReq(t *testing.T) {
	buf, err := request.ToJsonReq(map[string]string{"key": "value"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"value"}`, buf.String())

	buf, err = request.ToJsonReq(map[string]interface{}{"key": make(chan int)})
	assert.Error(t, err)
	assert.Nil(t, buf)
}

func TestCall(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://hooks.example.com/ok",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			return httpmock.NewStringResponse(http.StatusOK, `{"status":"success"}`), nil
		})
	httpmock.RegisterResponder("POST", "https://hooks.example.com/plain",
		httpmock.NewStringResponder(http.StatusOK, "ok"))
	httpmock.RegisterResponder("POST", "https://hooks.example.com/fail",
		httpmock.NewStringResponder(http.StatusBadRequest, "invalid_payload"))

	req, err := http.NewRequest("POST", "https://hooks.example.com/ok", nil)
	require.NoError(t, err)
	var response map[string]string
	resp, err := request.Call(req, &response)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", response["status"])

	req, _ = http.NewRequest("POST", "https://hooks.example.com/plain", nil)
	_, err = request.Call(req, nil)
	assert.NoError(t, err)

	req, _ = http.NewRequest("POST", "https://hooks.example.com/fail", nil)
	_, err = request.Call(req, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_payload")
}
