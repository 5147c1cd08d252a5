package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/streamwatch/internal/config"
	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/quota"
)

const testSchedules = `
schedules:
  - id: yt-news
    channel_id: UC1
    platform: youtube
    slots:
      - day: mon
        time: "09:00"
  - id: tt-creator
    channel_id: creator
    platform: tiktok
    slots:
      - day: tue
        time: "18:00"
`

func writeConfig(t *testing.T, schedules string) string {
	t.Helper()
	dir := t.TempDir()
	schedPath := filepath.Join(dir, "schedules.yaml")
	require.NoError(t, os.WriteFile(schedPath, []byte(schedules), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	body := `
platforms:
  youtube:
    enabled: true
    api_key: k
schedules:
  path: ` + schedPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "validate", "--config", writeConfig(t, testSchedules))
	require.NoError(t, err)
	require.Contains(t, out, "yt-news")
	require.Contains(t, out, "warning: schedule tt-creator targets disabled platform tiktok")
	require.Contains(t, out, "ok: 2 schedules, 1 platforms enabled")
}

func TestValidateCommandFailsOnInvalidSchedules(t *testing.T) {
	t.Parallel()

	bad := testSchedules + `
  - id: broken
    channel_id: x
    platform: myspace
`
	out, err := execute(t, "validate", "--config", writeConfig(t, bad))
	require.ErrorContains(t, err, "1 invalid schedule definitions")
	require.Contains(t, out, `invalid: schedules[2] "broken"`)
}

func TestQuotaCommandRequiresPostgres(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "quota", "--config", writeConfig(t, testSchedules))
	require.ErrorContains(t, err, "storage.backend=postgres")
}

func TestReportDefinitionsSkipsNextForInactive(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	defs := []poller.ScheduleDefinition{{
		ID: "paused", ChannelID: "c", Platform: poller.PlatformYouTube, Priority: 3,
		Slots: []poller.Slot{{Weekday: time.Monday, Hour: 9}},
	}}
	var buf bytes.Buffer
	err := reportDefinitions(&buf, cfg, defs, []error{errors.New("bad")}, time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC))
	require.Error(t, err)
	require.Contains(t, buf.String(), "paused")
	require.NotContains(t, buf.String(), "2024-05-06T09:00:00Z")
	require.Contains(t, buf.String(), "invalid: bad")
}

func TestPrintQuota(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	reset := time.Date(2024, 5, 7, 7, 0, 0, 0, time.UTC)
	require.NoError(t, printQuota(&buf, []quota.Stats{
		{Platform: poller.PlatformYouTube, Used: 2500, Limit: 10000, Available: 7000, Percentage: 25, NextReset: reset},
		{Platform: poller.PlatformTikTok, Used: 10, Limit: 1000, Locked: true, LockedUntil: reset, NextReset: reset},
	}))
	out := buf.String()
	require.Contains(t, out, "youtube")
	require.Contains(t, out, "25.0")
	require.Contains(t, out, "until 2024-05-07T07:00:00Z")
}
