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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/recon"
	"github.com/blnkfinance/recon/internal/apierror"
	"github.com/blnkfinance/recon/internal/expression"
	redlock "github.com/blnkfinance/recon/internal/lock"
)

// respondError writes err with the status that matches its type.
func respondError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	var configErr *recon.ConfigurationError
	var securityErr *expression.SecurityValidationError
	var syntaxErr *expression.SyntaxError

	switch {
	case errors.As(err, &configErr):
		status := http.StatusBadRequest
		if apierror.HasCode(configErr.Err, apierror.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": configErr.Error()})
	case errors.As(err, &apiErr):
		c.JSON(apierror.MapErrorToHTTPStatus(apiErr), apiErr)
	case errors.As(err, &securityErr), errors.As(err, &syntaxErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, redlock.ErrLockHeld):
		c.JSON(http.StatusConflict, gin.H{"error": "rule is already being executed for this channel"})
	default:
		logrus.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
