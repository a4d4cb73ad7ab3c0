package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/relsync/internal/cfg"
	"github.com/simplesurance/relsync/internal/jenkinsclt"
	"github.com/simplesurance/relsync/internal/jiraclt"
	"github.com/simplesurance/relsync/internal/logfields"
	"github.com/simplesurance/relsync/internal/relsync"
)

const appName = "relsync"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

const (
	defLogFormat  = "logfmt"
	defLogLevel   = "info"
	defLogTimeKey = "time"
)

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(2)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught, terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

type arguments struct {
	JenkinsURL     *string
	JiraURL        *string
	JiraUser       *string
	JiraPasswd     *string
	JiraToken      *string
	FieldID        *int
	PendingValue   *string
	SuccessValue   *string
	BuildFilter    *string
	PushgatewayURL *string
	DryRun         *bool
	ConfigFile     *string
	Verbose        *bool
	ShowVersion    *bool
}

var args arguments

// normalizeFlagName lets flags be passed with underscores instead of
// dashes, matching the environment variable names.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func mustParseCommandlineParams() {
	pflag.CommandLine.SetNormalizeFunc(normalizeFlagName)

	args = arguments{
		JenkinsURL: pflag.String(
			"jenkins-url",
			os.Getenv("JENKINS_URL"),
			"URL of the jenkins build, the JSON API path is appended (default: $JENKINS_URL)",
		),
		JiraURL: pflag.String(
			"jira-url",
			os.Getenv("JIRA_URL"),
			"base URL of the jira server (default: $JIRA_URL)",
		),
		JiraUser: pflag.String(
			"jira-user",
			os.Getenv("JIRA_USER"),
			"jira username for basic auth (default: $JIRA_USER)",
		),
		JiraPasswd: pflag.String(
			"jira-passwd",
			os.Getenv("JIRA_PASSWD"),
			"jira password for basic auth (default: $JIRA_PASSWD)",
		),
		JiraToken: pflag.String(
			"jira-token",
			os.Getenv("JIRA_TOKEN"),
			"jira personal access token, used instead of user/password (default: $JIRA_TOKEN)",
		),
		FieldID: pflag.Int(
			"field-id",
			relsync.DefFieldID,
			"numeric id of the jira custom field that tracks the test status",
		),
		PendingValue: pflag.String(
			"pending-value",
			relsync.DefPendingValue,
			"field value that marks an issue as waiting for the automated test",
		),
		SuccessValue: pflag.String(
			"success-value",
			relsync.DefSuccessValue,
			"field value that matching issues are updated to",
		),
		BuildFilter: pflag.String(
			"build-filter",
			"",
			"jq expression evaluated against the jenkins build JSON, must return a boolean; builds that do not match are skipped",
		),
		PushgatewayURL: pflag.String(
			"pushgateway-url",
			"",
			"URL of a prometheus pushgateway to publish run metrics to",
		),
		DryRun: pflag.BoolP(
			"dry-run",
			"n",
			false,
			"log the issues that would be updated instead of updating them",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			"",
			"path to an optional TOML configuration file",
		),
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nUpdate the test status of jira issues that are part of a successful labelled jenkins release.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	if *args.ConfigFile == "" {
		return &cfg.Config{}
	}

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration file", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	return config
}

// applyCfg merges the config file into the commandline arguments.
// Arguments that were passed on the commandline or are set via their
// environment variable take precedence over the config file.
func applyCfg(config *cfg.Config) {
	applyStr := func(flagName string, arg *string, fileVal string) {
		if pflag.CommandLine.Changed(flagName) || fileVal == "" || *arg != "" {
			return
		}

		*arg = fileVal
	}

	applyStr("jenkins-url", args.JenkinsURL, config.JenkinsURL)
	applyStr("jira-url", args.JiraURL, config.JiraURL)
	applyStr("jira-user", args.JiraUser, config.JiraUser)
	applyStr("jira-passwd", args.JiraPasswd, config.JiraPasswd)
	applyStr("jira-token", args.JiraToken, config.JiraToken)
	applyStr("build-filter", args.BuildFilter, config.BuildFilterQuery)
	applyStr("pushgateway-url", args.PushgatewayURL, config.PushgatewayURL)

	if !pflag.CommandLine.Changed("field-id") && config.FieldID != 0 {
		*args.FieldID = config.FieldID
	}

	if !pflag.CommandLine.Changed("pending-value") && config.PendingValue != "" {
		*args.PendingValue = config.PendingValue
	}

	if !pflag.CommandLine.Changed("success-value") && config.SuccessValue != "" {
		*args.SuccessValue = config.SuccessValue
	}
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	if config.LogFormat == "" {
		config.LogFormat = defLogFormat
	}

	if config.LogLevel == "" {
		config.LogLevel = defLogLevel
	}

	if config.LogTimeKey == "" {
		config.LogTimeKey = defLogTimeKey
	}

	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s\n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func newJiraClient() *jiraclt.Client {
	if *args.JiraToken != "" {
		return jiraclt.New(*args.JiraURL, jiraclt.WithBearerToken(*args.JiraToken))
	}

	return jiraclt.New(*args.JiraURL, jiraclt.WithBasicAuth(*args.JiraUser, *args.JiraPasswd))
}

func main() {
	defer panicHandler()

	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0)
	}

	config := mustParseCfg()
	applyCfg(config)

	mustInitLogger(config)

	if *args.JenkinsURL == "" {
		fmt.Fprintln(os.Stderr, "ERROR: --jenkins-url or $JENKINS_URL must be set")
		os.Exit(2)
	}

	if *args.JiraURL == "" {
		fmt.Fprintln(os.Stderr, "ERROR: --jira-url or $JIRA_URL must be set")
		os.Exit(2)
	}

	if *args.JiraToken == "" && *args.JiraUser == "" {
		fmt.Fprintln(os.Stderr, "ERROR: jira credentials are missing, set --jira-user/--jira-passwd or --jira-token")
		os.Exit(2)
	}

	buildFilter, err := relsync.NewBuildFilter(*args.BuildFilter)
	exitOnErr("could not parse build filter query", err)

	logger.Info(
		"starting run",
		logfields.Event("run_started"),
		zap.String("version", Version),
		zap.String("jenkins_url", *args.JenkinsURL),
		zap.String("jira_url", *args.JiraURL),
		zap.String("jira_user", *args.JiraUser),
		zap.String("jira_passwd", hide(*args.JiraPasswd)),
		zap.String("jira_token", hide(*args.JiraToken)),
		zap.Int("field_id", *args.FieldID),
		zap.String("pending_value", *args.PendingValue),
		zap.String("success_value", *args.SuccessValue),
		zap.String("build_filter", *args.BuildFilter),
		zap.String("pushgateway_url", *args.PushgatewayURL),
		zap.Bool("dry_run", *args.DryRun),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		if sig != nil {
			logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
		}
	})

	opts := []relsync.Option{
		relsync.WithFieldID(*args.FieldID),
		relsync.WithSentinels(*args.PendingValue, *args.SuccessValue),
		relsync.WithBuildFilter(buildFilter),
		relsync.WithDryRun(*args.DryRun),
	}

	if *args.PushgatewayURL != "" {
		opts = append(opts, relsync.WithMetrics(relsync.NewMetricsPusher(*args.PushgatewayURL)))
	}

	syncer := relsync.New(
		jenkinsclt.New(*args.JenkinsURL),
		newJiraClient(),
		opts...,
	)

	if err := syncer.Run(context.Background()); err != nil {
		logger.Error(
			"run failed",
			logfields.Event("run_failed"),
			zap.Error(err),
		)

		goodbye.Exit(context.Background(), 1)
	}

	logger.Info("run finished", logfields.Event("run_finished"))

	goodbye.Exit(context.Background(), 0)
}
