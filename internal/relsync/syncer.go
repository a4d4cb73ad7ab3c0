// Package relsync updates the test status of Jira issues that are part of a
// successful labelled Jenkins release.
package relsync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/relsync/internal/jenkinsclt"
	"github.com/simplesurance/relsync/internal/jiraclt"
	"github.com/simplesurance/relsync/internal/logfields"
)

const loggerName = "relsync"

// Defaults for the Jira custom field that tracks the automated test status.
const (
	DefFieldID      = 10803
	DefPendingValue = "Pending automated test"
	DefSuccessValue = "Success (automated regression test)"
)

// JenkinsClient provides the Jenkins build descriptor.
type JenkinsClient interface {
	LatestBuild(ctx context.Context) (*jenkinsclt.Build, error)
}

// JiraClient provides the Jira operations of a run.
type JiraClient interface {
	Me(ctx context.Context) (*jiraclt.User, error)
	SearchIssues(ctx context.Context, jql string, fields ...string) ([]*jiraclt.Issue, error)
	UpdateIssueField(ctx context.Context, issueKey string, fieldID int, value string) error
}

// Syncer runs one synchronization pass between Jenkins and Jira.
type Syncer struct {
	jenkins JenkinsClient
	jira    JiraClient

	fieldID      int
	pendingValue string
	successValue string

	filter  *BuildFilter
	dryRun  bool
	metrics *MetricsPusher

	logger *zap.Logger
}

type Option func(*Syncer)

// WithFieldID sets the numeric id of the Jira custom field that is matched
// and updated.
func WithFieldID(id int) Option {
	return func(s *Syncer) {
		s.fieldID = id
	}
}

// WithSentinels sets the field value that marks an issue as pending and the
// value it is updated to.
func WithSentinels(pending, success string) Option {
	return func(s *Syncer) {
		s.pendingValue = pending
		s.successValue = success
	}
}

// WithBuildFilter restricts the sync to builds matching the filter.
func WithBuildFilter(filter *BuildFilter) Option {
	return func(s *Syncer) {
		s.filter = filter
	}
}

// WithDryRun logs the issues that would be updated instead of updating them.
func WithDryRun(enabled bool) Option {
	return func(s *Syncer) {
		s.dryRun = enabled
	}
}

// WithMetrics publishes run outcomes via the MetricsPusher.
func WithMetrics(m *MetricsPusher) Option {
	return func(s *Syncer) {
		s.metrics = m
	}
}

func New(jenkins JenkinsClient, jira JiraClient, opts ...Option) *Syncer {
	s := Syncer{
		jenkins:      jenkins,
		jira:         jira,
		fieldID:      DefFieldID,
		pendingValue: DefPendingValue,
		successValue: DefSuccessValue,
		logger:       zap.L().Named(loggerName),
	}

	for _, o := range opts {
		o(&s)
	}

	return &s
}

// Run executes one synchronization pass.
// An error is only returned when the Jenkins build descriptor can not be
// fetched or the build filter can not be evaluated; no Jira interaction has
// happened in that case.
// Jira errors are logged and the run completes without further updates.
func (s *Syncer) Run(ctx context.Context) error {
	build, err := s.jenkins.LatestBuild(ctx)
	if err != nil {
		return fmt.Errorf("fetching latest jenkins build failed: %w", err)
	}

	logger := s.logger.With(
		logfields.Build(build.DisplayName),
		logfields.BuildResult(build.Result),
	)

	if Classify(build.DisplayName) == Unlabelled {
		logger.Info(
			"build is an unlabelled release, nothing to do",
			logfields.Event("build_unlabelled"),
		)

		s.metrics.RecordRun(0, 0, true)

		return nil
	}

	matched, err := s.filter.Match(ctx, build.Raw)
	if err != nil {
		return fmt.Errorf("evaluating build filter failed: %w", err)
	}

	if !matched {
		logger.Info(
			"build does not match the build filter, nothing to do",
			logfields.Event("build_filter_mismatch"),
			zap.String("build_filter", s.filter.String()),
		)

		s.metrics.RecordRun(0, 0, true)

		return nil
	}

	if build.Result != jenkinsclt.ResultSuccess {
		logger.Error(
			"labelled release failed, nothing to do",
			logfields.Event("build_not_successful"),
		)

		s.metrics.RecordRun(0, 0, false)

		return nil
	}

	s.syncIssuesForRelease(ctx, logger, build.DisplayName)

	return nil
}

func (s *Syncer) syncIssuesForRelease(ctx context.Context, logger *zap.Logger, release string) {
	logger = logger.With(logfields.Release(release))

	user, err := s.jira.Me(ctx)
	if err != nil {
		// reproduces the soft-failure of the original batch job:
		// the run completes without updating any issue
		logger.Error(
			"login to jira failed",
			logfields.Event("jira_login_failed"),
			zap.Error(err),
		)

		s.metrics.RecordRun(0, 0, false)

		return
	}

	logger.Info(
		"successfully logged into jira",
		logfields.Event("jira_login_succeeded"),
		zap.String("jira.user", user.Name),
	)

	jql := fmt.Sprintf("fixVersion=%q AND cf[%d]=%q", release, s.fieldID, s.pendingValue)
	fieldName := fmt.Sprintf("customfield_%d", s.fieldID)

	logger.Info(
		"searching for jira issues",
		logfields.Event("jira_search_started"),
		logfields.JQL(jql),
	)

	issues, err := s.jira.SearchIssues(ctx, jql, "key", fieldName)
	if err != nil {
		logger.Error(
			"searching jira issues failed",
			logfields.Event("jira_search_failed"),
			logfields.JQL(jql),
			zap.Error(err),
		)

		s.metrics.RecordRun(0, 0, false)

		return
	}

	if len(issues) == 0 {
		logger.Info(
			"no issues found in release",
			logfields.Event("jira_no_issues_found"),
		)

		s.metrics.RecordRun(0, 0, true)

		return
	}

	logger.Info(
		fmt.Sprintf("updating %d jira issues to %q", len(issues), s.successValue),
		logfields.Event("jira_update_started"),
		zap.Int("issue_count", len(issues)),
	)

	updated := 0

	for _, issue := range issues {
		issueLogger := logger.With(logfields.IssueKey(issue.Key))

		if s.dryRun {
			issueLogger.Info(
				"dry-run: issue update skipped",
				logfields.Event("jira_issue_update_skipped"),
			)

			continue
		}

		err := s.jira.UpdateIssueField(ctx, issue.Key, s.fieldID, s.successValue)
		if err != nil {
			issueLogger.Error(
				"updating jira issue failed",
				logfields.Event("jira_issue_update_failed"),
				zap.Error(err),
			)

			continue
		}

		updated++

		issueLogger.Debug(
			"jira issue updated",
			logfields.Event("jira_issue_updated"),
		)
	}

	logger.Info(
		fmt.Sprintf("%d jira issues were updated", updated),
		logfields.Event("jira_update_finished"),
		zap.Int("issue_count", len(issues)),
		zap.Int("updated_count", updated),
	)

	s.metrics.RecordRun(len(issues), updated, updated == len(issues) || s.dryRun)
}
