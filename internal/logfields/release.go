package logfields

import "go.uber.org/zap"

func Build(val string) zap.Field {
	return zap.String("jenkins.build", val)
}

func BuildResult(val string) zap.Field {
	return zap.String("jenkins.build_result", val)
}

func Release(val string) zap.Field {
	return zap.String("release", val)
}

func IssueKey(val string) zap.Field {
	return zap.String("jira.issue_key", val)
}

func JQL(val string) zap.Field {
	return zap.String("jira.jql", val)
}

func URL(val string) zap.Field {
	return zap.String("url", val)
}
