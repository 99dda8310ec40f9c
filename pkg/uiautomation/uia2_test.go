package uiautomation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/uisync/pkg/poll"
	"github.com/devicelab-dev/uisync/pkg/uiautomator2"
)

// scriptedClient returns queued hierarchy dumps, repeating the last one.
type scriptedClient struct {
	mu       sync.Mutex
	sources  []string
	calls    int
	keys     []int
	settings map[string]interface{}
	updates  []map[string]interface{}
	err      error
}

func (c *scriptedClient) Source(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	i := c.calls
	if i >= len(c.sources) {
		i = len(c.sources) - 1
	}
	c.calls++
	return c.sources[i], nil
}

func (c *scriptedClient) PressKeyCode(_ context.Context, keyCode int) error {
	c.keys = append(c.keys, keyCode)
	return c.err
}

func (c *scriptedClient) GetSettings(context.Context) (map[string]interface{}, error) {
	return c.settings, c.err
}

func (c *scriptedClient) UpdateSettings(_ context.Context, s map[string]interface{}) error {
	c.updates = append(c.updates, s)
	return c.err
}

func newFakeClockService(client UIA2Client) (*UIA2Service, *poll.FakeClock) {
	clock := poll.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewUIA2Service(client)
	s.clock = clock
	return s, clock
}

func TestWaitForIdle_StableHierarchy(t *testing.T) {
	client := &scriptedClient{sources: []string{"a", "b", "b"}}
	s, clock := newFakeClockService(client)
	start := clock.Now()

	err := s.WaitForIdle(context.Background(), 250*time.Millisecond, 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 350*time.Millisecond, clock.Now().Sub(start))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond, 50 * time.Millisecond}, clock.Sleeps())
}

func TestWaitForIdle_NeverQuiet(t *testing.T) {
	var sources []string
	for i := 0; i < 100; i++ {
		sources = append(sources, strings.Repeat("x", i+1))
	}
	s, clock := newFakeClockService(&scriptedClient{sources: sources})
	start := clock.Now()

	err := s.WaitForIdle(context.Background(), 500*time.Millisecond, time.Second)

	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Equal(t, time.Second, clock.Now().Sub(start))
}

func TestWaitForIdle_SourceError(t *testing.T) {
	boom := errors.New("socket closed")
	s, _ := newFakeClockService(&scriptedClient{err: boom})

	err := s.WaitForIdle(context.Background(), 500*time.Millisecond, time.Second)

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrIdleTimeout)
}

func TestRootInActiveWindow(t *testing.T) {
	s := NewUIA2Service(&scriptedClient{sources: []string{dumpClassTags}})

	root, err := s.RootInActiveWindow(context.Background())

	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, "android.widget.FrameLayout", root.Class)
}

func TestRootInActiveWindow_NoWindow(t *testing.T) {
	s := NewUIA2Service(&scriptedClient{sources: []string{"<hierarchy/>"}})

	root, err := s.RootInActiveWindow(context.Background())

	require.NoError(t, err)
	assert.Nil(t, root)
}

func TestSleepWakeUp(t *testing.T) {
	client := &scriptedClient{}
	s := NewUIA2Service(client)

	require.NoError(t, s.Sleep(context.Background()))
	require.NoError(t, s.WakeUp(context.Background()))

	assert.Equal(t, []int{uiautomator2.KeyCodeSleep, uiautomator2.KeyCodeWakeUp}, client.keys)
}

func TestSendWindowStateChanged_TogglesAndRestores(t *testing.T) {
	client := &scriptedClient{settings: map[string]interface{}{uiautomator2.SettingIgnoreUnimportantViews: false}}
	s := NewUIA2Service(client)

	require.NoError(t, s.SendWindowStateChanged(context.Background()))

	require.Len(t, client.updates, 2)
	assert.Equal(t, true, client.updates[0][uiautomator2.SettingIgnoreUnimportantViews])
	assert.Equal(t, false, client.updates[1][uiautomator2.SettingIgnoreUnimportantViews])
}

func TestUIA2Service_OverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/session" && r.Method == "POST":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"sessionId": "s1"})
		case strings.HasSuffix(r.URL.Path, "/source"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": dumpNodeTags})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := uiautomator2.NewClientURL(server.URL)
	require.NoError(t, client.CreateSession(context.Background(), uiautomator2.Capabilities{PlatformName: "Android"}))

	s := NewUIA2Service(client)
	s.SetSampleInterval(5 * time.Millisecond)

	require.NoError(t, s.WaitForIdle(context.Background(), 20*time.Millisecond, time.Second))
	root, err := s.RootInActiveWindow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, 2, root.Count())
}
