package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/bprzybys-nc/manager-sub001/api"
	"github.com/bprzybys-nc/manager-sub001/executor"
)

// ClaimBatch takes the oldest visible batch of an incident. It returns
// nil without error when there is nothing to run.
func (c *Client) ClaimBatch(ctx context.Context, incidentID string) (*executor.Claimed, error) {
	var out executor.Claimed
	status, err := c.do(ctx, http.MethodPost, "/v1/incidents/"+url.PathEscape(incidentID)+"/batches/claim", nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &out, nil
}

// ReportResults posts the outputs of a batch keyed by command.
func (c *Client) ReportResults(ctx context.Context, batchID string, results map[string]string) (*api.AcceptedResponse, error) {
	var out api.AcceptedResponse
	req := api.BatchResultsRequest{Results: results}
	if _, err := c.do(ctx, http.MethodPost, "/v1/batches/"+url.PathEscape(batchID)+"/results", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnswerApproval answers the remediation question with the given
// correlation id.
func (c *Client) AnswerApproval(ctx context.Context, correlationID string, approved bool) (*api.AcceptedResponse, error) {
	var out api.AcceptedResponse
	req := api.ApprovalRequest{Approved: approved}
	if _, err := c.do(ctx, http.MethodPost, "/v1/approvals/"+url.PathEscape(correlationID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
