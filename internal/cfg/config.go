package cfg

import (
	"io"

	"github.com/pelletier/go-toml"
)

type Config struct {
	JenkinsURL       string `toml:"jenkins_url"`
	JiraURL          string `toml:"jira_url"`
	JiraUser         string `toml:"jira_user"`
	JiraPasswd       string `toml:"jira_passwd"`
	JiraToken        string `toml:"jira_token"`
	FieldID          int    `toml:"field_id"`
	PendingValue     string `toml:"pending_value"`
	SuccessValue     string `toml:"success_value"`
	BuildFilterQuery string `toml:"build_filter_query"`
	PushgatewayURL   string `toml:"pushgateway_url"`
	LogFormat        string `toml:"log_format"`
	LogTimeKey       string `toml:"log_time_key"`
	LogLevel         string `toml:"log_level"`
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (r *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(r)
}
