package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/quiz/statestore"
)

// errNoChange aborts a compare-and-swap loop without writing.
var errNoChange = errors.New("no change")

// Key layout. Every part is restricted to [A-Za-z0-9] so keys are valid KV
// subjects; player names are hex encoded after lower-casing.
func sessionKey(code string) string { return "session." + code }

func channelKey(channelID int64) string { return "channel." + strconv.FormatInt(channelID, 10) }

func nameKey(name string) string { return hex.EncodeToString([]byte(strings.ToLower(name))) }

func playerPrefix(code string) string { return "player." + code + "." }

func playerKey(code, name string) string { return playerPrefix(code) + nameKey(name) }

func usedPrefix(code string) string { return "used." + code + "." }

func usedKey(code string, contentID int64) string {
	return usedPrefix(code) + strconv.FormatInt(contentID, 10)
}

func trackKey(code string) string { return "track." + code }

func answerSessionPrefix(code string) string { return "answer." + code + "." }

func answerPrefix(code string, round int) string {
	return answerSessionPrefix(code) + strconv.Itoa(round) + "."
}

func answerKey(code string, round int, name string) string {
	return answerPrefix(code, round) + nameKey(name)
}

func roundEndKey(code string) string { return "roundend." + code }

func resultPrefix(code string) string { return "result." + code + "." }

func resultKey(code string, game, round int) string {
	return resultPrefix(code) + strconv.Itoa(game) + "." + strconv.Itoa(round)
}

func lockKey(kind string, parts ...string) string {
	return "lock." + kind + "." + strings.Join(parts, ".")
}

// channelRecord points a channel at the session occupying it.
type channelRecord struct {
	SessionID string `json:"session_id"`
}

// roundEnd records when the current round closes.
type roundEnd struct {
	Game   int       `json:"game"`
	Round  int       `json:"round"`
	EndsAt time.Time `json:"ends_at"`
}

// repository is the typed access layer over the shared store.
type repository struct {
	state       statestore.Bucket
	results     statestore.Bucket
	maxAttempts int

	// retention bounds a session's life from CreatedAt. Zero disables it.
	retention time.Duration
	now       func() time.Time
}

func newRepository(store *statestore.Store, maxAttempts int) *repository {
	return &repository{
		state:       store.State,
		results:     store.Results,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func getJSON[T any](ctx context.Context, b statestore.Bucket, key string) (*T, uint64, error) {
	e, err := b.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	var v T
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, e.Revision, nil
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return data, nil
}

// updateJSON applies fn to the stored value and writes it back only if the
// key was not modified in between, retrying on conflict.
func updateJSON[T any](ctx context.Context, b statestore.Bucket, key string, attempts int, fn func(*T) error) (*T, error) {
	for i := 0; i < attempts; i++ {
		v, rev, err := getJSON[T](ctx, b, key)
		if err != nil {
			return nil, err
		}
		if err := fn(v); err != nil {
			if errors.Is(err, errNoChange) {
				return v, nil
			}
			return nil, err
		}
		data, err := encode(v)
		if err != nil {
			return nil, err
		}
		if _, err := b.Update(ctx, key, data, rev); err != nil {
			if errors.Is(err, statestore.ErrRevisionMismatch) {
				continue
			}
			return nil, err
		}
		return v, nil
	}
	return nil, ErrBusy
}

func (r *repository) getSession(ctx context.Context, code string) (*models.Session, uint64, error) {
	s, rev, err := getJSON[models.Session](ctx, r.state, sessionKey(code))
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, 0, ErrSessionNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load session: %w", err)
	}
	if r.expired(s) {
		return nil, 0, ErrSessionNotFound
	}
	return s, rev, nil
}

// expired reports whether s has outlived the retention window. Writes
// refresh the store TTL, so an active session is only bounded here.
func (r *repository) expired(s *models.Session) bool {
	return r.retention > 0 && !r.now().Before(s.CreatedAt.Add(r.retention))
}

func (r *repository) createSession(ctx context.Context, s *models.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	_, err = r.state.Create(ctx, sessionKey(s.ID), data)
	return err
}

// updateSession runs a compare-and-swap loop over the session record.
func (r *repository) updateSession(ctx context.Context, code string, fn func(*models.Session) error) (*models.Session, error) {
	s, err := updateJSON(ctx, r.state, sessionKey(code), r.maxAttempts, func(s *models.Session) error {
		if r.expired(s) {
			return ErrSessionNotFound
		}
		return fn(s)
	})
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (r *repository) deleteSession(ctx context.Context, code string) error {
	return r.state.Delete(ctx, sessionKey(code))
}

func (r *repository) getChannel(ctx context.Context, channelID int64) (*channelRecord, uint64, error) {
	return getJSON[channelRecord](ctx, r.state, channelKey(channelID))
}

// claimChannel points the channel at code unless an active session holds
// it. A channel held by a finished or expired session is taken over.
func (r *repository) claimChannel(ctx context.Context, channelID int64, code string) error {
	data, err := encode(channelRecord{SessionID: code})
	if err != nil {
		return err
	}

	for i := 0; i < r.maxAttempts; i++ {
		_, err := r.state.Create(ctx, channelKey(channelID), data)
		if err == nil {
			return nil
		}
		if !errors.Is(err, statestore.ErrKeyExists) {
			return fmt.Errorf("claim channel: %w", err)
		}

		cur, rev, err := r.getChannel(ctx, channelID)
		if errors.Is(err, statestore.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read channel: %w", err)
		}
		if cur.SessionID == code {
			return nil
		}

		holder, _, err := r.getSession(ctx, cur.SessionID)
		switch {
		case err == nil && holder.IsActive():
			return ErrChannelActive
		case err != nil && !errors.Is(err, ErrSessionNotFound):
			return err
		}

		if _, err := r.state.Update(ctx, channelKey(channelID), data, rev); err != nil {
			if errors.Is(err, statestore.ErrRevisionMismatch) {
				continue
			}
			return fmt.Errorf("take over channel: %w", err)
		}
		return nil
	}
	return ErrBusy
}

func (r *repository) getPlayer(ctx context.Context, code, name string) (*models.Player, uint64, error) {
	p, rev, err := getJSON[models.Player](ctx, r.state, playerKey(code, name))
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, 0, ErrPlayerNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load player: %w", err)
	}
	return p, rev, nil
}

// createPlayer stores a new player. statestore.ErrKeyExists means the name
// is already present.
func (r *repository) createPlayer(ctx context.Context, code string, p *models.Player) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	_, err = r.state.Create(ctx, playerKey(code, p.Name), data)
	return err
}

func (r *repository) updatePlayer(ctx context.Context, code, name string, fn func(*models.Player) error) (*models.Player, error) {
	p, err := updateJSON(ctx, r.state, playerKey(code, name), r.maxAttempts, fn)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, ErrPlayerNotFound
	}
	return p, err
}

func (r *repository) deletePlayerIf(ctx context.Context, code, name string, rev uint64) error {
	return r.state.DeleteIf(ctx, playerKey(code, name), rev)
}

// listPlayers returns the roster in join order.
func (r *repository) listPlayers(ctx context.Context, code string) ([]models.Player, error) {
	entries, err := r.state.List(ctx, playerPrefix(code))
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	players := make([]models.Player, 0, len(entries))
	for _, e := range entries {
		var p models.Player
		if err := json.Unmarshal(e.Value, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		players = append(players, p)
	}
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
	return players, nil
}

// markUsed records the content id as played. It returns false if it already was.
func (r *repository) markUsed(ctx context.Context, code string, contentID int64) (bool, error) {
	_, err := r.state.Create(ctx, usedKey(code, contentID), []byte("1"))
	if errors.Is(err, statestore.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark content used: %w", err)
	}
	return true, nil
}

func (r *repository) unmarkUsed(ctx context.Context, code string, contentID int64) error {
	return r.state.Delete(ctx, usedKey(code, contentID))
}

func (r *repository) putTrack(ctx context.Context, code string, t models.RoundTrack) error {
	data, err := encode(t)
	if err != nil {
		return err
	}
	if _, err := r.state.Put(ctx, trackKey(code), data); err != nil {
		return fmt.Errorf("store round track: %w", err)
	}
	return nil
}

func (r *repository) getTrack(ctx context.Context, code string) (*models.RoundTrack, error) {
	t, _, err := getJSON[models.RoundTrack](ctx, r.state, trackKey(code))
	if err != nil {
		return nil, fmt.Errorf("load round track: %w", err)
	}
	return t, nil
}

func (r *repository) putRoundEnd(ctx context.Context, code string, end roundEnd) error {
	data, err := encode(end)
	if err != nil {
		return err
	}
	if _, err := r.state.Put(ctx, roundEndKey(code), data); err != nil {
		return fmt.Errorf("store round end: %w", err)
	}
	return nil
}

// createAnswer writes the answer once. A second write for the same player
// and round fails with ErrAlreadySubmitted.
func (r *repository) createAnswer(ctx context.Context, code string, round int, a *models.Answer) error {
	data, err := encode(a)
	if err != nil {
		return err
	}
	_, err = r.state.Create(ctx, answerKey(code, round, a.PlayerName), data)
	if errors.Is(err, statestore.ErrKeyExists) {
		return ErrAlreadySubmitted
	}
	if err != nil {
		return fmt.Errorf("store answer: %w", err)
	}
	return nil
}

// listAnswers returns the round's answers keyed by lower-cased player name.
func (r *repository) listAnswers(ctx context.Context, code string, round int) (map[string]*models.Answer, error) {
	entries, err := r.state.List(ctx, answerPrefix(code, round))
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	answers := make(map[string]*models.Answer, len(entries))
	for _, e := range entries {
		var a models.Answer
		if err := json.Unmarshal(e.Value, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		answers[strings.ToLower(a.PlayerName)] = &a
	}
	return answers, nil
}

func (r *repository) getResults(ctx context.Context, code string, game, round int) (*models.RoundResults, error) {
	res, _, err := getJSON[models.RoundResults](ctx, r.results, resultKey(code, game, round))
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, ErrResultsUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	return res, nil
}

// createResults caches results for a round. statestore.ErrKeyExists means
// another worker already did.
func (r *repository) createResults(ctx context.Context, res *models.RoundResults) error {
	data, err := encode(res)
	if err != nil {
		return err
	}
	_, err = r.results.Create(ctx, resultKey(res.SessionID, res.Game, res.Round), data)
	return err
}

// updateResults applies fn to the cached results with a compare-and-set,
// so concurrent overrides of different players never drop each other.
func (r *repository) updateResults(ctx context.Context, code string, game, round int, fn func(*models.RoundResults) error) (*models.RoundResults, error) {
	res, err := updateJSON(ctx, r.results, resultKey(code, game, round), r.maxAttempts, fn)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, ErrResultsUnavailable
	}
	return res, err
}

func deletePrefix(ctx context.Context, b statestore.Bucket, prefix string) error {
	entries, err := b.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", prefix, err)
	}
	for _, e := range entries {
		if err := b.Delete(ctx, e.Key); err != nil {
			return err
		}
	}
	return nil
}

// clearAnswers drops the answers of every round.
func (r *repository) clearAnswers(ctx context.Context, code string) error {
	return deletePrefix(ctx, r.state, answerSessionPrefix(code))
}

// clearGame drops everything a restart resets: used content, the round
// track, answers, the round end and cached results.
func (r *repository) clearGame(ctx context.Context, code string) error {
	if err := deletePrefix(ctx, r.state, usedPrefix(code)); err != nil {
		return err
	}
	if err := r.clearAnswers(ctx, code); err != nil {
		return err
	}
	if err := r.state.Delete(ctx, trackKey(code)); err != nil {
		return err
	}
	if err := r.state.Delete(ctx, roundEndKey(code)); err != nil {
		return err
	}
	return deletePrefix(ctx, r.results, resultPrefix(code))
}
