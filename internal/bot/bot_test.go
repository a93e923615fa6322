package bot

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/edgard/recbot/internal/bot/handlers"
	"github.com/edgard/recbot/internal/chat"
	"github.com/edgard/recbot/internal/config"
	"github.com/edgard/recbot/internal/database"
	apperrors "github.com/edgard/recbot/internal/errors"
	"github.com/edgard/recbot/internal/identity"
	"github.com/edgard/recbot/internal/logger"
	"github.com/edgard/recbot/internal/osu"
	"github.com/edgard/recbot/internal/ratelimit"
	"github.com/edgard/recbot/internal/recommend"
)

type fakeDirectory struct {
	mu    sync.Mutex
	users map[int]string
	down  bool
}

func (d *fakeDirectory) ResolveHandle(_ context.Context, handle string) (*osu.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, apperrors.NewCommunicationError("osu! API", errors.New("connection refused"))
	}
	for id, name := range d.users {
		if osu.NormalizeName(name) == osu.NormalizeName(handle) {
			return &osu.User{ID: id, Name: name}, nil
		}
	}
	return nil, apperrors.NewResolutionError(handle)
}

func (d *fakeDirectory) GetUser(_ context.Context, id int) (*osu.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, apperrors.NewCommunicationError("osu! API", errors.New("connection refused"))
	}
	name, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	return &osu.User{ID: id, Name: name}, nil
}

func (d *fakeDirectory) set(id int, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id] = name
}

func (d *fakeDirectory) FetchStats(_ context.Context, id int) (*osu.Stats, error) {
	return &osu.Stats{UserID: id, PlayCount: 100}, nil
}

func (d *fakeDirectory) GetBeatmap(_ context.Context, id int) (*osu.Beatmap, error) {
	if id != 75 {
		return nil, nil
	}
	return &osu.Beatmap{ID: 75, Artist: "Kenji Ninuma", Title: "DISCO PRINCE", Version: "Normal",
		Stars: 2.4, BPM: 120, Length: 142 * time.Second}, nil
}

type testBot struct {
	*Bot
	store database.Store
	dir   *fakeDirectory
	cfg   *config.Config
	now   time.Time
}

func newTestBot(t *testing.T, rl ratelimit.Config) *testBot {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	db, err := database.Open(":memory:", log)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close(db, log) })
	store := database.NewStore(db, log)

	candidates := filepath.Join(t.TempDir(), "candidates.jsonl")
	if err := os.WriteFile(candidates, []byte(`{"model":"beta","beatmap_id":1,"mods":0,"probability":1}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if n, err := recommend.NewImporter(candidates, store, log).Import(context.Background()); err != nil || n != 1 {
		t.Fatalf("Import() = %d, %v; want 1 candidate", n, err)
	}

	cfg := &config.Config{
		Bot:      config.BotConfig{Version: 2, HandleTimeout: 5 * time.Second},
		Messages: config.DefaultMessages,
	}
	dir := &fakeDirectory{users: map[int]string{1: "user", 2: "the_donator", 3: "dev"}}
	resolver := identity.NewResolver(dir, store, log, identity.WithUserMaxAge(0))
	engine, err := recommend.NewEngine(recommend.Config{Seed: 1, ExhaustedMessage: cfg.Messages.Exhausted},
		recommend.NewStoreSource(store), store, log)
	if err != nil {
		t.Fatal(err)
	}

	handlerDeps := handlers.HandlerDeps{
		Logger:   log,
		Messages: cfg.Messages,
		Store:    store,
		Resolver: resolver,
		Engine:   engine,
		Stats:    dir,
		Beatmaps: dir,
	}
	b := NewBot(Deps{
		Logger:     log,
		Config:     cfg,
		Store:      store,
		Identities: resolver,
		Limiter:    ratelimit.New(rl),
		Engine:     engine,
		Commands:   handlers.RegisterAllCommands(handlerDeps),
		FreeText:   handlers.RegisterFreeText(handlerDeps),
		Actions:    handlers.RegisterActions(handlerDeps),
		Queue:      chat.NewResponseQueue(chat.NewDeliverer(&recordingSink{}, log), 16, log),
	})
	return &testBot{
		Bot:   b,
		store: store,
		dir:   dir,
		cfg:   cfg,
		now:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// seen marks userID as up to date so that commands are not prefixed with
// the version message.
func (tb *testBot) seen(t *testing.T, data database.UserData) {
	t.Helper()
	if data.LastVisitedVersion == 0 {
		data.LastVisitedVersion = tb.cfg.Bot.Version
	}
	if err := tb.store.SaveUserData(context.Background(), &data); err != nil {
		t.Fatal(err)
	}
}

func (tb *testBot) respond(ev *chat.Event) chat.Response {
	_, resp := tb.handle(context.Background(), ev)
	return resp
}

func (tb *testBot) message(nick, text string) chat.Response {
	return tb.respond(chat.NewPrivateMessage(1, nick, tb.now, text))
}

func isRecommendation(r chat.Response) bool {
	s, ok := r.(chat.Success)
	return ok && strings.Contains(s.Content, "/b/1")
}

func TestVersionMessageShownOnce(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{})

	first := tb.message("user", "!recommend")
	list, ok := first.(chat.List)
	if !ok || len(list) != 2 {
		t.Fatalf("first response = %#v, want version message and recommendation", first)
	}
	if diff := cmp.Diff(chat.Response(chat.Message{Content: tb.cfg.Messages.Version}), list[0]); diff != "" {
		t.Errorf("version message mismatch (-want +got):\n%s", diff)
	}

	tb.respond(chat.NewPrivateMessage(1, "user", tb.now, "!reset"))
	if second := tb.message("user", "!recommend"); !isRecommendation(second) {
		t.Errorf("second response = %#v, want a plain recommendation", second)
	}

	data, err := tb.store.GetUserData(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if data.LastVisitedVersion != tb.cfg.Bot.Version {
		t.Errorf("LastVisitedVersion = %d, want %d", data.LastVisitedVersion, tb.cfg.Bot.Version)
	}
}

func TestExhaustionAndReset(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{})
	tb.seen(t, database.UserData{UserID: 1})

	if r := tb.message("user", "!r"); !isRecommendation(r) {
		t.Fatalf("first !r = %#v, want candidate 1", r)
	}
	for i := 0; i < 2; i++ {
		r := tb.message("user", "!r")
		m, ok := r.(chat.Message)
		if !ok || !strings.Contains(m.Content, "!reset") {
			t.Fatalf("!r after exhaustion = %#v, want reset suggestion", r)
		}
	}

	tb.message("user", "!reset")
	if r := tb.message("user", "!r"); !isRecommendation(r) {
		t.Errorf("!r after reset = %#v, want candidate 1 again", r)
	}
}

func TestNoCommand(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{})
	tb.seen(t, database.UserData{UserID: 1})

	if r := tb.message("user", "no command"); r != chat.None {
		t.Errorf("response = %#v, want None", r)
	}
}

func TestNowPlaying(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{})
	tb.seen(t, database.UserData{UserID: 1})
	action := func(text string) chat.Response {
		return tb.respond(chat.NewPrivateAction(1, "user", tb.now, text))
	}

	r := action("is listening to [https://osu.ppy.sh/b/75 Kenji Ninuma - DISCO PRINCE]")
	want := chat.Response(chat.Success{Content: "Kenji Ninuma - DISCO PRINCE [Normal] | 2.40★ | 120 BPM | 2:22"})
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("np mismatch (-want +got):\n%s", diff)
	}

	r = action("is playing [https://osu.ppy.sh/beatmaps/76 Gone - Gone [Hard]]")
	if m, ok := r.(chat.Message); !ok || m.Content != tb.cfg.Messages.UnknownBeatmap {
		t.Errorf("np of an unknown beatmap = %#v", r)
	}

	if r := action("waves"); r != chat.None {
		t.Errorf("unrelated action = %#v, want None", r)
	}
}

func TestWrongCommands(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{})
	tb.seen(t, database.UserData{UserID: 1})

	r := tb.message("user", "!recccomend")
	m, ok := r.(chat.Message)
	if !ok || !strings.Contains(m.Content, "!help") {
		t.Errorf("unknown command response = %#v, want a message mentioning !help", r)
	}
	if r := tb.message("user", "!HELP"); r != (chat.Success{Content: tb.cfg.Messages.Help}) {
		t.Errorf("!HELP = %#v", r)
	}
}

func TestWelcomeIfDonator(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{})
	name := "the_donator"

	tests := []struct {
		away time.Duration
		want chat.Response
	}{
		{away: time.Second, want: chat.Message{Content: "beep boop"}},
		{away: 10 * time.Minute, want: chat.Message{Content: "Welcome back, the_donator."}},
		{away: 48 * time.Hour, want: chat.Message{Content: "the_donator, nice to see you again."}},
		{away: 30 * 24 * time.Hour, want: chat.List{
			chat.Message{Content: "the_donator..."},
			chat.Message{Content: "...is that you?"},
			chat.Message{Content: "It's been so long!"},
		}},
	}
	for _, tt := range tests {
		tb.seen(t, database.UserData{
			UserID:       2,
			Donator:      true,
			LastActivity: sql.NullTime{Time: tb.now.Add(-tt.away), Valid: true},
		})
		got := tb.respond(chat.NewJoined(1, name, tb.now))
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("welcome after %v mismatch (-want +got):\n%s", tt.away, diff)
		}
	}

	if r := tb.respond(chat.NewJoined(1, "user", tb.now)); r != chat.None {
		t.Errorf("join of a regular user = %#v, want None", r)
	}
}

func TestActivityRegistered(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{})
	tb.respond(chat.NewSighted(1, "user", tb.now))

	data, err := tb.store.GetUserData(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !data.LastActivity.Valid || !data.LastActivity.Time.Equal(tb.now) {
		t.Errorf("LastActivity = %v, want %v", data.LastActivity, tb.now)
	}
}

func TestErrorResponses(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{})
	tb.seen(t, database.UserData{UserID: 1})

	if r := tb.message("stranger", "!r"); r != (chat.Message{Content: tb.cfg.Messages.UnknownUser}) {
		t.Errorf("unknown user response = %#v", r)
	}
	if r := tb.respond(chat.NewSighted(1, "stranger", tb.now)); r != chat.None {
		t.Errorf("unknown sighted user response = %#v, want None", r)
	}
	if r := tb.message("user", "!r nomod dt"); r == nil {
		t.Error("invalid request produced no response")
	} else if m, ok := r.(chat.Message); !ok || !strings.Contains(m.Content, "nomod") {
		t.Errorf("invalid request response = %#v", r)
	}

	tb.FlushIdentityCache()
	tb.dir.mu.Lock()
	tb.dir.down = true
	tb.dir.mu.Unlock()
	if r := tb.message("user", "!r"); r != (chat.Message{Content: tb.cfg.Messages.ServiceUnavailable}) {
		t.Errorf("directory down response = %#v", r)
	}
}

func TestRenameFollowsDirectory(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{})
	userID := func(nick string) int64 {
		ctx, _ := tb.handle(context.Background(), chat.NewSighted(1, nick, tb.now))
		v, ok := logger.SnapshotFrom(ctx).Value("user_id")
		if !ok {
			t.Fatalf("no user_id attribute for %s", nick)
		}
		return v.Int64()
	}

	if got := userID("user"); got != 1 {
		t.Fatalf("user resolved to %d, want 1", got)
	}

	tb.dir.set(1, "renamed")
	tb.dir.set(4, "user")

	if got := userID("user"); got != 4 {
		t.Errorf("reused handle resolved to %d, want 4", got)
	}
	if got := userID("renamed"); got != 1 {
		t.Errorf("new handle resolved to %d, want 1", got)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{Window: time.Minute, MaxEvents: 1})
	tb.seen(t, database.UserData{UserID: 1})

	if r := tb.message("user", "!help"); r == nil || r == chat.Response(chat.Message{Content: tb.cfg.Messages.RateLimited}) {
		t.Fatalf("first command = %#v", r)
	}
	if r := tb.message("user", "!help"); r != (chat.Message{Content: tb.cfg.Messages.RateLimited}) {
		t.Errorf("second command = %#v, want rate limit message", r)
	}
	if r := tb.message("the_donator", "!help"); r == (chat.Message{Content: tb.cfg.Messages.RateLimited}) {
		t.Error("rate limit leaked to another user")
	}
}

func TestDebugCommandsNeedPermission(t *testing.T) {
	t.Parallel()

	tb := newTestBot(t, ratelimit.Config{})
	tb.seen(t, database.UserData{UserID: 1})
	tb.seen(t, database.UserData{UserID: 3, AllowedToDebug: true})

	if r := tb.message("user", "!debug resolve dev"); !strings.Contains(responseText(r), "I don't know the command") {
		t.Errorf("debug for regular user = %#v", r)
	}
	if r := tb.message("dev", "!debug resolve user"); r != (chat.Message{Content: "Resolved user to 1"}) {
		t.Errorf("debug for debugging user = %#v", r)
	}
}

func responseText(r chat.Response) string {
	if m, ok := r.(chat.Message); ok {
		return m.Content
	}
	return ""
}

type delivery struct {
	kind, text, requestID string
}

type recordingSink struct {
	mu   sync.Mutex
	got  []delivery
	done chan struct{}
	want int
}

func (s *recordingSink) record(ctx context.Context, kind, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := logger.SnapshotFrom(ctx).Value("request_id")
	s.got = append(s.got, delivery{kind: kind, text: text, requestID: v.String()})
	if s.done != nil && len(s.got) == s.want {
		close(s.done)
	}
	return nil
}

func (s *recordingSink) Message(ctx context.Context, _ *chat.Event, text string) error {
	return s.record(ctx, "message", text)
}

func (s *recordingSink) Action(ctx context.Context, _ *chat.Event, text string) error {
	return s.record(ctx, "action", text)
}

func TestOnEventSubmitsExactlyOnce(t *testing.T) {
	tb := newTestBot(t, ratelimit.Config{})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tb.seen(t, database.UserData{UserID: 1})
	tb.seen(t, database.UserData{UserID: 2, Donator: true})

	sink := &recordingSink{done: make(chan struct{}), want: 3}
	log := slog.New(slog.DiscardHandler)
	tb.queue = chat.NewResponseQueue(chat.NewDeliverer(sink, log), 16, log)

	ctx := context.Background()
	events := []*chat.Event{
		chat.NewPrivateMessage(1, "user", tb.now, "!help"),
		chat.NewPrivateMessage(1, "user", tb.now, "no command"),
		chat.NewSighted(1, "stranger", tb.now),
		chat.NewPrivateAction(1, "the_donator", tb.now, "hugs the bot"),
	}
	for i, ev := range events {
		if err := tb.OnEvent(ctx, ev); err != nil {
			t.Fatalf("OnEvent() error = %v", err)
		}
		if got := tb.QueueDepth(); got != i+1 {
			t.Fatalf("QueueDepth() after %d events = %d", i+1, got)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- tb.queue.Run(runCtx) }()

	select {
	case <-sink.done:
	case <-time.After(5 * time.Second):
		t.Fatal("responses were not delivered")
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	want := []delivery{
		{kind: "message", text: tb.cfg.Messages.Help},
		{kind: "message", text: tb.cfg.Messages.Hug},
		{kind: "action", text: "hugs the_donator"},
	}
	if diff := cmp.Diff(want, sink.got, cmp.AllowUnexported(delivery{}), cmpIgnoreRequestID); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
	for _, d := range sink.got {
		if d.requestID == "" {
			t.Errorf("delivery %q lost its request id", d.text)
		}
	}
	if sink.got[1].requestID != sink.got[2].requestID {
		t.Error("parts of one response carry different request ids")
	}
}

var cmpIgnoreRequestID = cmp.FilterPath(func(p cmp.Path) bool {
	sf, ok := p.Last().(cmp.StructField)
	return ok && sf.Name() == "requestID"
}, cmp.Ignore())
