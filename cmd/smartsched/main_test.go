package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartsched/internal/config"
	"smartsched/internal/domain/negotiation"
	"smartsched/internal/infra/calendar"
)

type scriptedReader struct {
	lines []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Observability.Logging.Level = "error"
	return cfg
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildApplicationWithMemoryBackends(t *testing.T) {
	app, err := buildApplication(testConfig(t), io.Discard)
	require.NoError(t, err)
	defer func() { assert.NoError(t, app.Close(context.Background())) }()

	require.NotNil(t, app.breaker)
	res, err := app.service.HandleUtterance(context.Background(), "cli-1", "45 minutes tomorrow")
	require.NoError(t, err)
	assert.Equal(t, negotiation.ActionProposeSlots, res.Action.Kind)
	assert.Contains(t, app.formatter.Format(res).Text, "Option 1")
}

func TestBuildApplicationWithSQLiteBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Session.Backend = config.SessionBackendSQLite
	cfg.Session.SQLitePath = filepath.Join(dir, "sessions.db")
	cfg.Calendar.Backend = config.CalendarBackendSQLite
	cfg.Calendar.SQLitePath = filepath.Join(dir, "calendar.db")
	cfg.Calendar.CalendarIDs = []string{"primary", "team"}

	team, err := calendar.OpenSQLite(cfg.Calendar.SQLitePath, "team")
	require.NoError(t, err)
	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	day := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, time.UTC)
	_, err = team.Add(context.Background(), calendar.Event{Title: "Offsite", Start: day, End: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, team.Close())

	app, err := buildApplication(cfg, io.Discard)
	require.NoError(t, err)
	defer func() { assert.NoError(t, app.Close(context.Background())) }()

	busy, err := app.calendar.BusyIntervals(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, "Offsite", busy[0].Title)

	_, err = app.service.HandleUtterance(context.Background(), "cli-2", "an hour the day after tomorrow")
	require.NoError(t, err)
	conv, err := app.service.Session(context.Background(), "cli-2")
	require.NoError(t, err)
	assert.Len(t, conv.History, 1)
}

func TestBuildApplicationRejectsBrokenExtractor(t *testing.T) {
	cfg := testConfig(t)
	cfg.Extractor.Backend = config.ExtractorLLM
	cfg.Extractor.BaseURL = ""
	_, err := buildApplication(cfg, io.Discard)
	assert.Error(t, err)
}

func TestRunChat(t *testing.T) {
	app, err := buildApplication(testConfig(t), io.Discard)
	require.NoError(t, err)
	defer app.Close(context.Background())

	var out bytes.Buffer
	in := &scriptedReader{lines: []string{"", "30 minutes tomorrow", "/reset", "/reset", "quit", "never read"}}
	require.NoError(t, runChat(context.Background(), app, "chat-1", in, &out))

	text := out.String()
	assert.Contains(t, text, "chat-1")
	assert.Contains(t, text, "Option 1")
	assert.Contains(t, text, "Starting over.")
	assert.Contains(t, text, "Goodbye!")
	assert.Equal(t, []string{"never read"}, in.lines)

	_, err = app.service.Session(context.Background(), "chat-1")
	assert.True(t, errors.Is(err, negotiation.ErrSessionNotFound))
}

func TestRunChatStopsAtEOF(t *testing.T) {
	app, err := buildApplication(testConfig(t), io.Discard)
	require.NoError(t, err)
	defer app.Close(context.Background())

	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), app, "chat-2", &scannerReader{scanner: bufio.NewScanner(strings.NewReader("an hour\n"))}, &out))
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smartsched.yaml")

	out, err := runRoot(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = runRoot(t, "config", "init", path)
	assert.Error(t, err)
	_, err = runRoot(t, "config", "init", "--force", path)
	require.NoError(t, err)

	out, err = runRoot(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "scheduling:")
	assert.Contains(t, out, path)
}

func TestConfigDiff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smartsched.yaml")
	require.NoError(t, config.WriteDefault(path, false))

	out, err := runRoot(t, "--config", path, "config", "diff")
	require.NoError(t, err)
	assert.Contains(t, out, "No differences from defaults.")

	require.NoError(t, os.WriteFile(path, []byte("scheduling:\n  max_alternatives: 5\n"), 0o644))
	out, err = runRoot(t, "--config", path, "config", "diff")
	require.NoError(t, err)

	var added, removed []string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			added = append(added, strings.TrimSpace(line[1:]))
		case strings.HasPrefix(line, "-"):
			removed = append(removed, strings.TrimSpace(line[1:]))
		}
	}
	assert.Equal(t, []string{"max_alternatives: 5"}, added)
	assert.Equal(t, []string{"max_alternatives: 3"}, removed)
}

func TestCalendarAddAndList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smartsched.yaml")
	content := "calendar:\n  backend: sqlite\n  sqlite_path: " + filepath.Join(dir, "calendar.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	out, err := runRoot(t, "--config", path, "calendar", "add",
		"--title", "Standup", "--start", "2026-02-03T09:00:00Z", "--end", "2026-02-03T09:30:00Z",
		"--attendee", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Added ")

	out, err = runRoot(t, "--config", path, "calendar", "list", "--from", "2026-02-02T00:00:00Z", "--to", "2026-02-09T00:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "Standup")
	assert.Contains(t, out, "09:00-09:30")
	assert.Contains(t, out, "a@example.com")

	out, err = runRoot(t, "--config", path, "calendar", "list", "--from", "2026-03-02T00:00:00Z", "--to", "2026-03-09T00:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "No events.")
}

func TestCalendarCommandsNeedSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smartsched.yaml")
	require.NoError(t, config.WriteDefault(path, false))
	_, err := runRoot(t, "--config", path, "calendar", "list")
	assert.ErrorIs(t, err, errNeedsSQLiteCalendar)
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "smartsched "))
}

type fakeServer struct {
	started  chan struct{}
	stop     chan struct{}
	startErr error
	shutdown bool
}

func (f *fakeServer) Start() error {
	close(f.started)
	if f.startErr != nil {
		return f.startErr
	}
	<-f.stop
	return nil
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdown = true
	close(f.stop)
	return nil
}

func TestServeUntilDone(t *testing.T) {
	srv := &fakeServer{started: make(chan struct{}), stop: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveUntilDone(ctx, srv, time.Second, nil) }()
	<-srv.started
	cancel()
	require.NoError(t, <-done)
	assert.True(t, srv.shutdown)

	failing := &fakeServer{started: make(chan struct{}), stop: make(chan struct{}), startErr: errors.New("address in use")}
	err := serveUntilDone(context.Background(), failing, time.Second, nil)
	assert.ErrorContains(t, err, "address in use")
}
