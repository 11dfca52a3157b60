package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/events"
)

func TestNewSessionCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := newSessionCode()
		if err != nil {
			t.Fatalf("newSessionCode: %v", err)
		}
		if len(code) != sessionCodeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(sessionCodeAlphabet, r) {
				t.Fatalf("code %q contains %q", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Errorf("expected mostly unique codes, got %d distinct of 200", len(seen))
	}
}

func TestCreateSessionChannelActive(t *testing.T) {
	c := newCluster(t, 2)
	ctx := context.Background()

	first, err := c.engines[0].CreateSession(ctx, CreateSessionParams{ChannelID: 42})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.State != models.GameStateLobby {
		t.Errorf("state = %s, want lobby", first.State)
	}
	if first.Settings != models.DefaultGameSettings() {
		t.Errorf("settings = %+v, want defaults", first.Settings)
	}

	_, err = c.engines[1].CreateSession(ctx, CreateSessionParams{ChannelID: 42})
	expectCode(t, err, ErrChannelActive)

	// another channel is independent
	if _, err := c.engines[1].CreateSession(ctx, CreateSessionParams{ChannelID: 43}); err != nil {
		t.Fatalf("create on channel 43: %v", err)
	}

	if err := c.engines[0].Join(ctx, "host-1", first.ID, JoinParams{Name: "Host", Host: true}); err != nil {
		t.Fatalf("host join: %v", err)
	}
	if err := c.engines[0].End(ctx, "host-1", first.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if c.countType(events.TypeGameCancelled) != 1 {
		t.Errorf("expected gameCancelled when ending from the lobby")
	}

	second, err := c.engines[1].CreateSession(ctx, CreateSessionParams{ChannelID: 42})
	if err != nil {
		t.Fatalf("create after finish: %v", err)
	}
	active, err := c.engines[0].ActiveSessionForChannel(ctx, 42)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active session = %s, want %s", active.ID, second.ID)
	}
}

func TestCreateSessionValidatesSettings(t *testing.T) {
	c := newCluster(t, 1)
	ctx := context.Background()

	_, err := c.engines[0].CreateSession(ctx, CreateSessionParams{
		ChannelID: 42,
		Settings:  models.GameSettingsPatch{RoundTimer: intPtr(5)},
	})
	expectCode(t, err, ErrInvalidSettings)

	_, err = c.engines[0].CreateSession(ctx, CreateSessionParams{})
	expectCode(t, err, ErrInvalidPayload)

	s, err := c.engines[0].CreateSession(ctx, CreateSessionParams{
		ChannelID: 42,
		Settings:  models.GameSettingsPatch{TotalRounds: intPtr(3), YearTolerance: intPtr(0)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Settings.TotalRounds != 3 || s.Settings.YearTolerance != 0 || s.Settings.RoundTimer != 30 {
		t.Errorf("unexpected settings %+v", s.Settings)
	}
}

func TestJoinValidation(t *testing.T) {
	c := newCluster(t, 1)
	g := setupGame(t, c, models.GameSettingsPatch{MaxPlayers: intPtr(2)}, "alice")
	ctx := context.Background()
	eng := g.engine(0)

	tests := []struct {
		name string
		code string
		p    JoinParams
		want *Error
	}{
		{"empty name", g.code, JoinParams{Name: "   "}, ErrNameRequired},
		{"long name", g.code, JoinParams{Name: strings.Repeat("x", models.MaxPlayerNameLength+1)}, ErrNameTooLong},
		{"unknown session", "ZZZZZZ", JoinParams{Name: "bob"}, ErrSessionNotFound},
		{"rejoin unknown player", g.code, JoinParams{Name: "carol", Rejoin: true}, ErrNotInGame},
		{"player takes host name", g.code, JoinParams{Name: "quizmaster"}, ErrNameTaken},
		{"second host", g.code, JoinParams{Name: "impostor", Host: true}, ErrNotHost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.Join(ctx, "conn-x", tt.code, tt.p)
			expectCode(t, err, tt.want)
		})
	}

	if err := eng.Join(ctx, "conn-bob", g.code, JoinParams{Name: "bob"}); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	err := eng.Join(ctx, "conn-dave", g.code, JoinParams{Name: "dave"})
	expectCode(t, err, ErrSessionFull)

	if err := eng.Start(ctx, "host-1", g.code); err != nil {
		t.Fatalf("start: %v", err)
	}
	err = eng.Join(ctx, "conn-erin", g.code, JoinParams{Name: "erin"})
	expectCode(t, err, ErrGameAlreadyStarted)
}

func TestJoinCodeIsCaseInsensitive(t *testing.T) {
	c := newCluster(t, 1)
	g := setupGame(t, c, models.GameSettingsPatch{})

	if err := g.engine(0).Join(context.Background(), "conn-a", strings.ToLower(g.code), JoinParams{Name: "alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := g.player(t, "ALICE"); got.Name != "alice" {
		t.Errorf("player name = %q", got.Name)
	}
}

func TestJoinSendsSnapshotAndAnnounces(t *testing.T) {
	c := newCluster(t, 2)
	g := setupGame(t, c, models.GameSettingsPatch{}, "alice")

	ev, ok := c.lastReceived("conn-alice", events.TypeGameData)
	if !ok {
		t.Fatal("alice did not receive gameData")
	}
	data := ev.(events.GameData)
	if data.IsHost || data.Reconnected || data.You.Name != "alice" {
		t.Errorf("unexpected snapshot %+v", data)
	}
	if data.Session.ID != g.code {
		t.Errorf("snapshot session = %s", data.Session.ID)
	}

	if c.received("host-1", events.TypePlayerJoined) != 1 {
		t.Errorf("host should see alice join")
	}
	if c.received("conn-alice", events.TypePlayerJoined) != 0 {
		t.Errorf("alice should not receive her own playerJoined")
	}
}

func TestRejoinPreservesScore(t *testing.T) {
	c := newCluster(t, 2)
	g := setupGame(t, c, models.GameSettingsPatch{}, "alice", "bob")
	ctx := context.Background()

	g.startRound(t, 7)
	// alice joined on worker 1, bob on worker 0
	if err := g.engine(1).SubmitAnswer(ctx, "conn-alice", g.code, events.SubmitAnswer{Artist: "Queen", Title: "Bohemian Rhapsody", Year: intPtr(1975)}); err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	if err := g.engine(0).SubmitAnswer(ctx, "conn-bob", g.code, events.SubmitAnswer{Artist: "Abba"}); err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	waitFor(t, "roundResults", func() bool { return c.countType(events.TypeRoundResults) == 1 })

	if got := g.player(t, "alice").Score; got != 4 {
		t.Fatalf("alice score = %d, want 4", got)
	}

	g.engine(1).HandleDisconnect("conn-alice")
	if err := g.engine(0).Join(ctx, "conn-alice-2", g.code, JoinParams{Name: "ALICE", Rejoin: true}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	p := g.player(t, "alice")
	if p.Score != 4 || p.ArtistScore != 1 || p.TitleScore != 1 || p.YearScore != 2 {
		t.Errorf("scores not preserved: %+v", p)
	}
	if p.ConnID != "conn-alice-2" {
		t.Errorf("conn id = %s", p.ConnID)
	}
	_, players, err := g.engine(0).GetSession(ctx, g.code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(players) != 3 {
		t.Errorf("roster size = %d, want 3", len(players))
	}

	ev, ok := c.lastReceived("conn-alice-2", events.TypeGameData)
	if !ok {
		t.Fatal("rejoined player got no snapshot")
	}
	data := ev.(events.GameData)
	if !data.Reconnected || data.LastResults == nil || data.LastResults.Round != 1 {
		t.Errorf("snapshot missing reconnect state: %+v", data)
	}

	// the grace timer of the old connection must not remove her
	c.clock.Advance(DefaultConfig().PlayerGrace)
	if c.countType(events.TypePlayerLeft) != 0 {
		t.Errorf("rejoined player was removed")
	}
}

func TestHostRejoinDetachesPreviousConnection(t *testing.T) {
	c := newCluster(t, 2)
	g := setupGame(t, c, models.GameSettingsPatch{}, "alice")
	ctx := context.Background()

	if err := g.engine(1).Join(ctx, "host-2", g.code, JoinParams{Name: "quizmaster", Host: true}); err != nil {
		t.Fatalf("host rejoin: %v", err)
	}
	if _, ok := c.hubs[0].Binding("host-1"); ok {
		t.Errorf("previous host connection still bound on worker 0")
	}

	session, _, err := g.engine(0).GetSession(ctx, g.code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.HostConnID != "host-2" {
		t.Errorf("host conn = %s, want host-2", session.HostConnID)
	}

	err = g.engine(0).Start(ctx, "host-1", g.code)
	expectCode(t, err, ErrNotHost)

	if err := g.engine(1).Start(ctx, "host-2", g.code); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.received("host-1", events.TypeGameStarted) != 0 {
		t.Errorf("replaced host connection still receives events")
	}
	if c.received("host-2", events.TypeGameStarted) != 1 {
		t.Errorf("new host connection missed gameStarted")
	}

	ev, _ := c.lastReceived("host-2", events.TypeGameData)
	if data := ev.(events.GameData); !data.IsHost || !data.Reconnected {
		t.Errorf("host snapshot = %+v", data)
	}
}

func TestHostOnlyActions(t *testing.T) {
	c := newCluster(t, 1)
	g := setupGame(t, c, models.GameSettingsPatch{}, "alice")
	ctx := context.Background()
	eng := g.engine(0)

	expectCode(t, eng.Start(ctx, "conn-alice", g.code), ErrNotHost)
	expectCode(t, eng.End(ctx, "conn-alice", g.code), ErrNotHost)
	expectCode(t, eng.ShowLeaderboard(ctx, "conn-alice", g.code), ErrNotHost)
	expectCode(t, eng.Restart(ctx, "conn-alice", g.code, false), ErrNotHost)

	expectCode(t, eng.Restart(ctx, "host-1", g.code, false), ErrInvalidState)
	if err := eng.Start(ctx, "host-1", g.code); err != nil {
		t.Fatalf("start: %v", err)
	}
	expectCode(t, eng.Start(ctx, "host-1", g.code), ErrInvalidState)
}

func TestUpdateSettings(t *testing.T) {
	c := newCluster(t, 1)
	g := setupGame(t, c, models.GameSettingsPatch{}, "alice", "bob")
	ctx := context.Background()
	eng := g.engine(0)

	err := eng.UpdateSettings(ctx, "host-1", g.code, models.GameSettingsPatch{MaxPlayers: intPtr(1)})
	expectCode(t, err, ErrInvalidSettings)
	err = eng.UpdateSettings(ctx, "host-1", g.code, models.GameSettingsPatch{YearTolerance: intPtr(11)})
	expectCode(t, err, ErrInvalidSettings)

	if err := eng.UpdateSettings(ctx, "host-1", g.code, models.GameSettingsPatch{RoundTimer: intPtr(45), HostPlays: boolPtr(true)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	ev, ok := c.lastBroadcast(events.TypeSettingsUpdated)
	if !ok {
		t.Fatal("no settingsUpdated broadcast")
	}
	got := ev.(events.SettingsUpdated).Settings
	if got.RoundTimer != 45 || !got.HostPlays || got.TotalRounds != 10 {
		t.Errorf("settings = %+v", got)
	}

	g.startRound(t, 7)
	err = eng.UpdateSettings(ctx, "host-1", g.code, models.GameSettingsPatch{RoundTimer: intPtr(60)})
	expectCode(t, err, ErrInvalidState)
}

func boolPtr(v bool) *bool { return &v }

func TestRestartResetsGame(t *testing.T) {
	c := newCluster(t, 1)
	g := setupGame(t, c, models.GameSettingsPatch{}, "alice")
	ctx := context.Background()
	eng := g.engine(0)

	g.startRound(t, 7)
	if err := eng.SubmitAnswer(ctx, "conn-alice", g.code, events.SubmitAnswer{Artist: "Queen"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "roundResults", func() bool { return c.countType(events.TypeRoundResults) == 1 })
	if err := eng.End(ctx, "host-1", g.code); err != nil {
		t.Fatalf("end: %v", err)
	}
	ev, ok := c.lastBroadcast(events.TypeFinalResults)
	if !ok {
		t.Fatal("no finalResults")
	}
	if final := ev.(events.FinalResults); final.RoundsPlayed != 1 || final.Leaderboard[0].Score != 1 {
		t.Errorf("final results = %+v", final)
	}

	if err := eng.Restart(ctx, "host-1", g.code, false); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if g.state(t) != models.GameStatePlaying {
		t.Errorf("state = %s, want playing", g.state(t))
	}
	if p := g.player(t, "alice"); p.Score != 0 || p.ArtistScore != 0 {
		t.Errorf("scores not reset: %+v", p)
	}
	if c.countType(events.TypeGameRestarted) != 1 {
		t.Errorf("expected gameRestarted")
	}

	// the used set is cleared, so card 7 starts a fresh round 1
	before := c.countType(events.TypeCountdown)
	if err := eng.HandleCardScan(ctx, 42, 7); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if c.countType(events.TypeCountdown) != before+1 {
		t.Fatalf("card 7 was not accepted after restart")
	}
	ev, _ = c.lastBroadcast(events.TypeCountdown)
	if cd := ev.(events.Countdown); cd.Round != 1 {
		t.Errorf("countdown round = %d, want 1", cd.Round)
	}
}

func TestRestartIgnoresCountdownFromEarlierGame(t *testing.T) {
	c := newCluster(t, 2)
	g := setupGame(t, c, models.GameSettingsPatch{}, "alice")
	ctx := context.Background()

	if err := g.engine(0).Start(ctx, "host-1", g.code); err != nil {
		t.Fatalf("start: %v", err)
	}
	// the countdown timer lives on worker 1, which the restart cannot cancel
	if err := g.engine(1).HandleCardScan(ctx, 42, 7); err != nil {
		t.Fatalf("scan: %v", err)
	}
	c.clock.Advance(2 * time.Second)

	if err := g.engine(0).Restart(ctx, "host-1", g.code, false); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := g.engine(0).HandleCardScan(ctx, 42, 8); err != nil {
		t.Fatalf("scan after restart: %v", err)
	}

	c.clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	if g.state(t) != models.GameStateCountdown {
		t.Fatalf("state = %s, want countdown", g.state(t))
	}
	if n := c.countType(events.TypeRoundStart); n != 0 {
		t.Fatal("round opened by the earlier game's countdown")
	}

	c.clock.Advance(2 * time.Second)
	waitFor(t, "roundStart", func() bool { return c.countType(events.TypeRoundStart) == 1 })
	ev, _ := c.lastBroadcast(events.TypeRoundStart)
	if rs := ev.(events.RoundStart); rs.Round != 1 {
		t.Errorf("round start = %d, want 1", rs.Round)
	}
	session, _, err := g.engine(1).GetSession(ctx, g.code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Game != 1 || session.CurrentRound != 1 {
		t.Errorf("session game %d round %d, want game 1 round 1", session.Game, session.CurrentRound)
	}
}

func TestRestartToLobby(t *testing.T) {
	c := newCluster(t, 1)
	g := setupGame(t, c, models.GameSettingsPatch{}, "alice")
	ctx := context.Background()

	if err := g.engine(0).Start(ctx, "host-1", g.code); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := g.engine(0).Restart(ctx, "host-1", g.code, true); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if g.state(t) != models.GameStateLobby {
		t.Errorf("state = %s, want lobby", g.state(t))
	}
	ev, ok := c.lastBroadcast(events.TypeGameReset)
	if !ok {
		t.Fatal("no gameReset")
	}
	if n := len(ev.(events.GameReset).Players); n != 2 {
		t.Errorf("reset roster = %d, want 2", n)
	}
}

func TestRestartAfterChannelMovedOn(t *testing.T) {
	c := newCluster(t, 1)
	g := setupGame(t, c, models.GameSettingsPatch{}, "alice")
	ctx := context.Background()
	eng := g.engine(0)

	if err := eng.Start(ctx, "host-1", g.code); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := eng.End(ctx, "host-1", g.code); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := eng.CreateSession(ctx, CreateSessionParams{ChannelID: 42}); err != nil {
		t.Fatalf("create newer session: %v", err)
	}
	expectCode(t, eng.Restart(ctx, "host-1", g.code, false), ErrChannelActive)
}
