package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bprzybys-nc/manager-sub001/api"
	"github.com/bprzybys-nc/manager-sub001/approval"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/task"
)

// CreateIncident submits a new incident. The workflow starts
// asynchronously on the server.
func (c *Client) CreateIncident(ctx context.Context, req api.CreateIncidentRequest) (*api.AcceptedResponse, error) {
	var out api.AcceptedResponse
	if _, err := c.do(ctx, http.MethodPost, "/v1/incidents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetIncident fetches one incident.
func (c *Client) GetIncident(ctx context.Context, incidentID string) (*incident.Incident, error) {
	var out incident.Incident
	if _, err := c.do(ctx, http.MethodGet, "/v1/incidents/"+url.PathEscape(incidentID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListIncidents lists incidents, newest first. An empty status lists all.
func (c *Client) ListIncidents(ctx context.Context, status incident.Status, limit, offset int) ([]*incident.Incident, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out []*incident.Incident
	if _, err := c.do(ctx, http.MethodGet, "/v1/incidents?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CloseIncident asks the server to close an incident. A refusal comes
// back as an *Error with Reason set.
func (c *Client) CloseIncident(ctx context.Context, incidentID string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/incidents/"+url.PathEscape(incidentID)+"/close", nil, nil)
	return err
}

// IgnoreIncident marks an incident ignored.
func (c *Client) IgnoreIncident(ctx context.Context, incidentID string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/incidents/"+url.PathEscape(incidentID)+"/ignore", nil, nil)
	return err
}

// Resume re-enters an incident's workflow with the given new results.
func (c *Client) Resume(ctx context.Context, incidentID string, taskIDs, questionIDs []string) (*api.AcceptedResponse, error) {
	var out api.AcceptedResponse
	req := api.ResumeRequest{TaskIDs: taskIDs, QuestionIDs: questionIDs}
	if _, err := c.do(ctx, http.MethodPost, "/v1/incidents/"+url.PathEscape(incidentID)+"/resume", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tasks lists an incident's tasks, optionally filtered by state.
func (c *Client) Tasks(ctx context.Context, incidentID string, states ...task.State) ([]*task.Task, error) {
	path := "/v1/incidents/" + url.PathEscape(incidentID) + "/tasks"
	if len(states) > 0 {
		raw := make([]string, len(states))
		for i, s := range states {
			raw[i] = string(s)
		}
		path += "?state=" + url.QueryEscape(strings.Join(raw, ","))
	}
	var out []*task.Task
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Questions lists the approval questions of an incident.
func (c *Client) Questions(ctx context.Context, incidentID string) ([]*approval.Question, error) {
	var out []*approval.Question
	if _, err := c.do(ctx, http.MethodGet, "/v1/incidents/"+url.PathEscape(incidentID)+"/questions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Workflow fetches the workflow instance of an incident with its open
// suspension points.
func (c *Client) Workflow(ctx context.Context, incidentID string) (*api.WorkflowResponse, error) {
	var out api.WorkflowResponse
	if _, err := c.do(ctx, http.MethodGet, "/v1/incidents/"+url.PathEscape(incidentID)+"/workflow", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Comment adds a note to a task.
func (c *Client) Comment(ctx context.Context, taskID, author, text string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskID)+"/comments",
		api.CommentRequest{Author: author, Text: text}, nil)
	return err
}
