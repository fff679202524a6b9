package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/idlereboot/internal/a2s"
	"github.com/MrSnakeDoc/idlereboot/internal/config"
	"github.com/MrSnakeDoc/idlereboot/internal/logger"
	"github.com/MrSnakeDoc/idlereboot/internal/maintenance"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// infoReply encodes an A2S_INFO response with the given player count.
func infoReply(players uint8) []byte {
	b := []byte{0xFF, 0xFF, 0xFF, 0xFF, 'I', 0x11}
	for _, s := range []string{"KF2 Test", "KF-Outpost", "kf2", "Killing Floor 2"} {
		b = append(b, s...)
		b = append(b, 0)
	}
	b = append(b, 0x9A, 0x8A, players, 6, 0, 'd', 'l', 0, 1)
	b = append(b, "1.0.0.0"...)
	return append(b, 0)
}

// gameServer answers every datagram with players, or never when silent.
func gameServer(t *testing.T, players uint8, silent bool) (string, int) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			_, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if !silent {
				_, _ = pc.WriteTo(infoReply(players), addr)
			}
		}
	}()

	host, port, err := net.SplitHostPort(pc.LocalAddr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Ledger.StampFile = filepath.Join(dir, "restart-stamp")
	cfg.Restart.Command = "true"
	cfg.Timing.QueryTimeout = time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, now time.Time) (*App, *fakeClock) {
	t.Helper()
	a, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	clock := &fakeClock{now: now}
	a.clock = clock
	return a, clock
}

func nyTime(t *testing.T, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(2026, time.July, day, hour, minute, 0, 0, loc)
}

func TestRunOnceOutsideWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "idlereboot.prom")
	a, clock := newTestApp(t, cfg, nyTime(t, 9, 23, 30))

	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, maintenance.DecisionWaitForWindow, rep.Decision)
	assert.Equal(t, []time.Duration{time.Hour}, clock.sleeps)

	raw, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `idlereboot_decisions_total{decision="wait_for_window"} 1`)
}

func TestRunOnceRestartsIdleServer(t *testing.T) {
	host, port := gameServer(t, 0, false)
	marker := filepath.Join(t.TempDir(), "restarted")

	cfg := testConfig(t)
	cfg.Server.Host = host
	cfg.Server.Port = port
	cfg.Timing.EmptyTime = 30 * time.Second
	cfg.Restart.Command = "touch " + marker
	a, clock := newTestApp(t, cfg, nyTime(t, 10, 1, 0))

	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, maintenance.DecisionRestarted, rep.Decision)
	assert.Equal(t, 3, rep.Polls)
	assert.Len(t, clock.sleeps, 3)

	_, err = os.Stat(marker)
	assert.NoError(t, err, "restart command should have run")

	st, err := os.Stat(cfg.Ledger.StampFile)
	require.NoError(t, err)
	assert.True(t, st.ModTime().Equal(nyTime(t, 10, 1, 0).Add(30*time.Second)))

	// A second run inside the same window must not restart again.
	require.NoError(t, os.Remove(marker))
	rep, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, maintenance.DecisionAlreadyDone, rep.Decision)
	_, err = os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
}

func TestRunOnceBusyServer(t *testing.T) {
	host, port := gameServer(t, 4, false)
	cfg := testConfig(t)
	cfg.Server.Host = host
	cfg.Server.Port = port
	a, _ := newTestApp(t, cfg, nyTime(t, 10, 2, 0))

	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, maintenance.DecisionServerBusy, rep.Decision)
	require.NotNil(t, rep.Server)
	assert.Equal(t, uint8(4), rep.Server.Players)

	_, err = os.Stat(cfg.Ledger.StampFile)
	assert.True(t, os.IsNotExist(err))
}

func TestQuery(t *testing.T) {
	host, port := gameServer(t, 2, false)
	cfg := testConfig(t)
	cfg.Server.Host = host
	cfg.Server.Port = port
	a, _ := newTestApp(t, cfg, time.Now())

	info, err := a.Query(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "KF2 Test", info.Name)
	assert.Equal(t, uint8(2), info.Players)
	assert.Equal(t, uint8(6), info.MaxPlayers)
}

func TestQueryTimeout(t *testing.T) {
	host, port := gameServer(t, 0, true)
	cfg := testConfig(t)
	cfg.Server.Host = host
	cfg.Server.Port = port
	cfg.Timing.QueryTimeout = 100 * time.Millisecond
	a, _ := newTestApp(t, cfg, time.Now())

	_, err := a.Query(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, a2s.ErrTimeout)
}

func TestWindows(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t), time.Now())

	inside := a.Windows(nyTime(t, 10, 2, 0))
	require.NotNil(t, inside.Current)
	assert.True(t, inside.Current.Start.Equal(nyTime(t, 10, 1, 0)))
	assert.True(t, inside.Next.Start.Equal(nyTime(t, 11, 1, 0)))
	assert.Equal(t, "America/New_York", inside.Location.String())

	outside := a.Windows(nyTime(t, 10, 12, 0))
	assert.Nil(t, outside.Current)
	assert.True(t, outside.Next.Start.Equal(nyTime(t, 11, 1, 0)))
	assert.True(t, outside.Nearby[0].Start.Equal(nyTime(t, 9, 1, 0)))
}

func TestNewRejectsBadRestartCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.Restart.Command = "'unterminated"
	_, err := New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestWatchStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watch.Schedule = "@every 1h"
	a, _ := newTestApp(t, cfg, nyTime(t, 9, 23, 30))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not stop")
	}
}
