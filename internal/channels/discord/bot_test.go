package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/pillpal/internal/notify"
)

// redirect sends every request to the test server regardless of host.
type redirect struct {
	target *url.URL
}

func (r redirect) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	req.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

type fakeDiscord struct {
	mu       sync.Mutex
	paths    []string
	contents []string
	auth     string
}

func (f *fakeDiscord) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.contents = append(f.contents, body.Content)
	f.auth = r.Header.Get("Authorization")
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"id":"1","channel_id":"chan-1","content":"ok"}`))
}

type directory map[string]*notify.Recipient

func (d directory) Recipient(ctx context.Context, userID string) (*notify.Recipient, error) {
	return d[userID], nil
}

func newTestBot(t *testing.T, api *fakeDiscord) *Bot {
	return newRoutedBot(t, api, "chan-1", nil)
}

func newRoutedBot(t *testing.T, api *fakeDiscord, admin string, dir notify.Directory) *Bot {
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	bot, err := NewBot(Config{
		Token:          "tok",
		AdminChannelID: admin,
		Directory:      dir,
		Client:         &http.Client{Transport: redirect{target: target}},
	}, nil)
	require.NoError(t, err)
	return bot
}

func TestNewBot_RequiresToken(t *testing.T) {
	_, err := NewBot(Config{AdminChannelID: "c"}, nil)
	assert.Error(t, err)

	bot, err := NewBot(Config{Token: "t"}, nil)
	require.NoError(t, err, "admin channel is optional")
	assert.NotNil(t, bot)
}

func TestBot_NotifyRoutesToOwner(t *testing.T) {
	api := &fakeDiscord{}
	dir := directory{
		"alice": {Name: "Alice", Email: "alice@example.com", DiscordChannelID: "chan-alice"},
		"bob":   {Name: "Bob", Email: "bob@example.com", DiscordChannelID: "chan-bob"},
		"carol": {Name: "Carol", Email: "carol@example.com"},
	}
	bot := newRoutedBot(t, api, "chan-admin", dir)
	ctx := context.Background()

	require.NoError(t, bot.Notify(ctx, notify.Event{Kind: notify.KindMedlog, UserID: "alice", Message: "Metformin taken"}))
	require.NoError(t, bot.Notify(ctx, notify.Event{Kind: notify.KindDeviceOffline, UserID: "carol", Message: "Kitchen"}))
	require.NoError(t, bot.Notify(ctx, notify.Event{UserID: "deleted", Message: "x"}))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.paths, 2)
	assert.True(t, strings.HasSuffix(api.paths[0], "/channels/chan-alice/messages"))
	assert.Contains(t, api.contents[0], "Alice <alice@example.com>")
	assert.True(t, strings.HasSuffix(api.paths[1], "/channels/chan-admin/messages"))
	assert.Contains(t, api.contents[1], "Carol <carol@example.com>")
	for _, p := range api.paths {
		assert.NotContains(t, p, "chan-bob")
	}
}

func TestBot_Notify(t *testing.T) {
	api := &fakeDiscord{}
	bot := newTestBot(t, api)
	assert.Equal(t, "discord", bot.Name())

	err := bot.Notify(context.Background(), notify.Event{Kind: notify.KindDeviceMessage, Message: "refill the tray"})
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.contents, 1)
	assert.True(t, strings.HasSuffix(api.paths[0], "/channels/chan-1/messages"))
	assert.Contains(t, api.contents[0], "refill the tray")
	assert.Equal(t, "Bot tok", api.auth)
}

func TestBot_NotifySplitsLongMessages(t *testing.T) {
	api := &fakeDiscord{}
	bot := newTestBot(t, api)

	err := bot.Notify(context.Background(), notify.Event{Message: strings.Repeat("a", 4500)})
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Len(t, api.contents, 3)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"abc", "def", "g"}, splitMessage("abcdefg", 3))
	assert.Equal(t, []string{"💊💊", "💊"}, splitMessage("💊💊💊", 2))
}
