package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/recurhq/recur/internal/tax/domain"
	"go.uber.org/zap"
)

const oracleTimeout = 5 * time.Second

type oracleErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPOracle talks to a hosted tax calculation service.
type HTTPOracle struct {
	baseURL string
	apiKey  string
	log     *zap.Logger
	client  *http.Client
}

func NewHTTPOracle(baseURL, apiKey string, log *zap.Logger) *HTTPOracle {
	return &HTTPOracle{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		log:     log.Named("tax.oracle"),
		client:  &http.Client{Timeout: oracleTimeout},
	}
}

func (o *HTTPOracle) Calculate(ctx context.Context, req domain.CalculateRequest) (*domain.Assessment, error) {
	if o.baseURL == "" {
		return nil, errors.New("oracle_not_configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/tax/calculations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var oracleErr oracleErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&oracleErr); err != nil {
			return nil, errors.New("oracle_request_failed")
		}
		message := strings.TrimSpace(oracleErr.Error.Message)
		if message == "" {
			message = "oracle_request_failed"
		}
		return nil, errors.New(message)
	}

	var assessment domain.Assessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		return nil, err
	}
	if assessment.Amount < 0 {
		return nil, errors.New("oracle_response_invalid")
	}
	return &assessment, nil
}
