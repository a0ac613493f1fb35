package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sebdah/goldie/v2"

	"github.com/scalytics/skytext/internal/agent"
	"github.com/scalytics/skytext/internal/config"
	"github.com/scalytics/skytext/internal/tracestore"
)

// testConfig runs commands against a file store under a temp dir and the
// fixtures shipped with the repo.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "traces.jsonl")
	cfg.Weather.Mode = config.WeatherModeFixture
	cfg.Weather.FixturesDir = filepath.Join("..", "..", "fixtures")
	cfg.Log.Level = "error"
	return cfg
}

func useConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	orig := loadConfig
	loadConfig = func() (*config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = orig })
}

func runRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	simulateFrom, simulateJSON = defaultSimulateFrom, false
	replayLive, replayJSON = false, false
	logLevelFlag, logFormatFlag = "", ""
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	useConfig(t, nil)
	out, _, err := runRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "Version: "+version) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSimulateReplayAndTrace(t *testing.T) {
	useConfig(t, testConfig(t))

	out, _, err := runRootCommand(t, "simulate", "--json", "weather", "in", "Seattle", "today?")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	var sim runSummary
	if err := json.Unmarshal([]byte(out), &sim); err != nil {
		t.Fatalf("decode simulate output: %v\n%s", err, out)
	}
	if !strings.HasPrefix(sim.Response, "Seattle, Washington, United States: Light drizzle.") {
		t.Fatalf("unexpected response %q", sim.Response)
	}
	if !strings.HasPrefix(sim.TraceID, "trace_") || len(sim.Events) != 2*len(agent.Steps) {
		t.Fatalf("unexpected trace %s with %d events", sim.TraceID, len(sim.Events))
	}

	out, _, err = runRootCommand(t, "replay", sim.TraceID, "--json")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	var rep runSummary
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode replay output: %v\n%s", err, out)
	}
	if rep.Response != sim.Response {
		t.Fatalf("replay diverged:\n%s\n%s", sim.Response, rep.Response)
	}
	if rep.TraceID == sim.TraceID {
		t.Fatal("replay must record a new trace")
	}

	out, _, err = runRootCommand(t, "trace", rep.TraceID)
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	for _, want := range []string{"Message:  " + agent.ReplayPrefix + sim.TraceID, "fetchWeather", "Response: " + sim.Response} {
		if !strings.Contains(out, want) {
			t.Fatalf("timeline missing %q:\n%s", want, out)
		}
	}
}

func TestSimulateTextOutput(t *testing.T) {
	useConfig(t, testConfig(t))

	out, _, err := runRootCommand(t, "simulate", "--from", "+15550001111", "what should I wear in Boston")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.HasPrefix(out, "Response:\nBoston, Massachusetts, United States: Clear sky.") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, "- step_succeeded generateRecommendation (") {
		t.Fatalf("missing event lines:\n%s", out)
	}
}

func TestSimulateRequiresText(t *testing.T) {
	useConfig(t, testConfig(t))
	if _, _, err := runRootCommand(t, "simulate"); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestReplayUnknownTrace(t *testing.T) {
	useConfig(t, testConfig(t))
	_, _, err := runRootCommand(t, "replay", "trace_missing")
	if err == nil || !strings.Contains(err.Error(), "trace not found: trace_missing") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTraceUnknown(t *testing.T) {
	useConfig(t, testConfig(t))
	if _, _, err := runRootCommand(t, "trace", "trace_missing"); err == nil {
		t.Fatal("expected error")
	}
}

func TestInvalidConfigFailsFast(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Mode = "redis"
	useConfig(t, cfg)
	if _, _, err := runRootCommand(t, "simulate", "hi"); err == nil || !strings.Contains(err.Error(), "redisUrl") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMigrateRequiresSQLMode(t *testing.T) {
	useConfig(t, testConfig(t))
	if _, _, err := runRootCommand(t, "migrate"); err == nil {
		t.Fatal("expected error in file mode")
	}
}

func TestMigrateSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Mode = tracestore.ModeSQL
	cfg.Store.Driver = tracestore.DriverSQLite
	cfg.Store.DSN = filepath.Join(t.TempDir(), "traces.db")
	useConfig(t, cfg)

	out, _, err := runRootCommand(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "Applied 0001_init.sql") {
		t.Fatalf("unexpected output %q", out)
	}
	out, _, err = runRootCommand(t, "migrate")
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if strings.TrimSpace(out) != "No pending migrations" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNewLoggerRejectsUnknownSettings(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected level error")
	}
	if _, err := newLogger(&bytes.Buffer{}, config.LogConfig{Level: "debug", Format: "xml"}); err == nil {
		t.Fatal("expected format error")
	}
	var buf bytes.Buffer
	logger, err := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("unexpected log output %q", buf.String())
	}
}

func int64p(v int64) *int64 { return &v }

func TestRenderTimeline(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	created := time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)
	at := func(ms int) time.Time { return created.Add(time.Duration(ms) * time.Millisecond) }
	tr := &tracestore.Trace{
		TraceID:   "trace_0123456789abcdef",
		CreatedAt: created,
		Input: tracestore.Input{
			FromRedacted: "********0123",
			Body:         "weather in Seattle tomorrow",
			MessageID:    "SM123",
			ReceivedAt:   created,
		},
		Events: []tracestore.Event{
			{Type: tracestore.StepStarted, Step: "parseIntent", Timestamp: at(0), Input: tracestore.Fields{"body": "weather in Seattle tomorrow"}},
			{Type: tracestore.StepSucceeded, Step: "parseIntent", Timestamp: at(1), DurationMS: int64p(1), Output: tracestore.Fields{"location_text": "Seattle", "date": "2026-10-18"}},
			{Type: tracestore.StepStarted, Step: "fetchWeather", Timestamp: at(2), Input: tracestore.Fields{"location": "Seattle"}},
			{Type: tracestore.StepFailed, Step: "fetchWeather", Timestamp: at(8010), DurationMS: int64p(8008), Error: "fetch forecast: context deadline exceeded"},
		},
		Output: &tracestore.Output{ResponseText: agent.FallbackText},
	}

	var buf bytes.Buffer
	renderTimeline(&buf, tr)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "trace_timeline", buf.Bytes())
}

func TestPrintRunText(t *testing.T) {
	tr := &tracestore.Trace{
		TraceID: "trace_1",
		Events: []tracestore.Event{
			{Type: tracestore.StepStarted, Step: "parseIntent"},
			{Type: tracestore.StepSucceeded, Step: "parseIntent", DurationMS: int64p(2)},
		},
	}
	var buf bytes.Buffer
	if err := printRun(&buf, "hello", tr, false); err != nil {
		t.Fatalf("print: %v", err)
	}
	want := "Response:\nhello\n\nTrace trace_1 events:\n- step_started parseIntent (0ms)\n- step_succeeded parseIntent (2ms)\n"
	if buf.String() != want {
		t.Fatalf("unexpected output:\n%q\nwant\n%q", buf.String(), want)
	}
}
