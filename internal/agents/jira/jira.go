// Package jira files user stories as JIRA issues.
package jira

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	gojira "github.com/andygrunwald/go-jira"
)

const (
	DefaultProject   = "SDLC"
	DefaultIssueType = "Story"
)

// Config for a real JIRA instance. Token is an API token for Username.
type Config struct {
	URL       string `mapstructure:"url"`
	Username  string `mapstructure:"username"`
	Token     string `mapstructure:"token"`
	Project   string `mapstructure:"project"`
	IssueType string `mapstructure:"issue_type"`
}

// Client creates issues through the JIRA REST API.
type Client struct {
	api       *gojira.Client
	project   string
	issueType string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("jira: url is required")
	}
	tp := gojira.BasicAuthTransport{Username: cfg.Username, Password: cfg.Token}
	api, err := gojira.NewClient(tp.Client(), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("jira: %w", err)
	}
	c := &Client{api: api, project: cfg.Project, issueType: cfg.IssueType}
	if c.project == "" {
		c.project = DefaultProject
	}
	if c.issueType == "" {
		c.issueType = DefaultIssueType
	}
	return c, nil
}

func (c *Client) Create(ctx context.Context, summary, description string) (string, error) {
	issue := &gojira.Issue{
		Fields: &gojira.IssueFields{
			Project:     gojira.Project{Key: c.project},
			Type:        gojira.IssueType{Name: c.issueType},
			Summary:     summary,
			Description: description,
		},
	}
	created, resp, err := c.api.Issue.CreateWithContext(ctx, issue)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("jira: create issue: %w", gojira.NewJiraError(resp, err))
		}
		return "", fmt.Errorf("jira: create issue: %w", err)
	}
	if created == nil || created.Key == "" {
		return "", errors.New("jira: create issue: response carried no issue key")
	}
	return created.Key, nil
}

// Mock hands out sequential keys without network access.
type Mock struct {
	project string
	seq     atomic.Int64
}

func NewMock(project string) *Mock {
	if project == "" {
		project = DefaultProject
	}
	return &Mock{project: project}
}

func (m *Mock) Create(ctx context.Context, summary, description string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", m.project, m.seq.Add(1)), nil
}
