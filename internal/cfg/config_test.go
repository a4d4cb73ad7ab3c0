package cfg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	const file = `
jenkins_url = "https://jenkins.example.com/job/release/lastBuild/"
jira_url = "https://jira.example.com"
jira_user = "batchuser"
jira_passwd = "secret"
field_id = 10803
pending_value = "Pending automated test"
success_value = "Success (automated regression test)"
build_filter_query = '.result == "SUCCESS"'
log_format = "logfmt"
log_level = "debug"
`

	config, err := Load(strings.NewReader(file))
	require.NoError(t, err)

	assert.Equal(t, "https://jenkins.example.com/job/release/lastBuild/", config.JenkinsURL)
	assert.Equal(t, "https://jira.example.com", config.JiraURL)
	assert.Equal(t, "batchuser", config.JiraUser)
	assert.Equal(t, "secret", config.JiraPasswd)
	assert.Equal(t, 10803, config.FieldID)
	assert.Equal(t, "Pending automated test", config.PendingValue)
	assert.Equal(t, "Success (automated regression test)", config.SuccessValue)
	assert.Equal(t, `.result == "SUCCESS"`, config.BuildFilterQuery)
	assert.Equal(t, "logfmt", config.LogFormat)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestLoadInvalidTOML(t *testing.T) {
	_, err := Load(strings.NewReader(`jenkins_url = `))
	require.Error(t, err)
}
