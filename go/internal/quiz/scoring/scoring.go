// Package scoring turns a player's free-text answer into points. It is pure:
// no I/O, no clocks.
package scoring

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/mcdev12/qrhit/go/internal/models"
)

const (
	// MatchThreshold is the similarity an answer must exceed to count as correct.
	MatchThreshold = 0.85
	// MaxTitleThreshold caps the raised threshold for answers missing title words.
	MaxTitleThreshold = 0.95
	// MinLengthRatio is the share of the canonical length an answer must reach.
	MinLengthRatio = 0.6

	ArtistPoints     = 1
	TitlePoints      = 1
	YearExactPoints  = 2
	YearWithinPoints = 1
)

// Result is the outcome of scoring one answer.
type Result struct {
	ArtistCorrect bool
	TitleCorrect  bool
	YearPoints    int
}

// Points returns the total round score of the result.
func (r Result) Points() int {
	points := r.YearPoints
	if r.ArtistCorrect {
		points += ArtistPoints
	}
	if r.TitleCorrect {
		points += TitlePoints
	}
	return points
}

// Similarity returns the Sørensen–Dice similarity of two normalized strings.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return strutil.Similarity(a, b, metrics.NewSorensenDice())
}

// MatchArtist reports whether answer names the canonical artist.
func MatchArtist(answer, canonical string) bool {
	a, c := Normalize(answer), Normalize(canonical)
	return matches(a, c, MatchThreshold)
}

// MatchTitle reports whether answer names the canonical title. Answers with
// fewer words than the title face a stricter threshold so that one right word
// of a long title does not pass.
func MatchTitle(answer, canonical string) bool {
	a, c := Normalize(answer), Normalize(canonical)
	return matches(a, c, titleThreshold(a, c))
}

func titleThreshold(answer, canonical string) float64 {
	canonWords := len(strings.Fields(canonical))
	answerWords := len(strings.Fields(answer))
	if canonWords == 0 || answerWords >= canonWords {
		return MatchThreshold
	}

	missing := float64(canonWords-answerWords) / float64(canonWords)
	threshold := MatchThreshold + (MaxTitleThreshold-MatchThreshold)*missing
	if threshold > MaxTitleThreshold {
		threshold = MaxTitleThreshold
	}
	return threshold
}

func matches(answer, canonical string, threshold float64) bool {
	if answer == "" || canonical == "" {
		return false
	}
	if float64(utf8.RuneCountInString(answer)) < MinLengthRatio*float64(utf8.RuneCountInString(canonical)) {
		return false
	}
	return Similarity(answer, canonical) > threshold
}

// YearPoints scores a year guess: 2 for exact, 1 within tolerance, else 0.
// A missing guess or a track without a year scores 0.
func YearPoints(guess, actual *int, tolerance int) int {
	if guess == nil || actual == nil {
		return 0
	}
	diff := *guess - *actual
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff == 0:
		return YearExactPoints
	case diff <= tolerance:
		return YearWithinPoints
	default:
		return 0
	}
}

// Score scores one answer against the round's track. A nil answer scores 0 on
// every axis.
func Score(track models.Track, answer *models.Answer, yearTolerance int) Result {
	if answer == nil {
		return Result{}
	}
	return Result{
		ArtistCorrect: MatchArtist(answer.Artist, track.Artist),
		TitleCorrect:  MatchTitle(answer.Title, track.Title),
		YearPoints:    YearPoints(answer.Year, track.Year, yearTolerance),
	}
}

// Override flips one axis of a scored result. It returns the updated result
// and the score delta to apply to the player's cumulative totals.
func Override(res models.PlayerResult, field models.AnswerField, correct bool) (models.PlayerResult, int, error) {
	delta := 0
	switch field {
	case models.AnswerFieldArtist:
		if res.ArtistCorrect != correct {
			delta = flipDelta(correct, ArtistPoints)
			res.ArtistCorrect = correct
		}
	case models.AnswerFieldTitle:
		if res.TitleCorrect != correct {
			delta = flipDelta(correct, TitlePoints)
			res.TitleCorrect = correct
		}
	case models.AnswerFieldYear:
		// Year is set to its full value or zero; from a within-tolerance
		// year the delta is one point either way.
		target := 0
		if correct {
			target = YearExactPoints
		}
		delta = target - res.YearPoints
		res.YearPoints = target
	default:
		return res, 0, fmt.Errorf("unknown answer field %q", field)
	}

	res.Points += delta
	res.TotalScore += delta
	return res, delta, nil
}

func flipDelta(correct bool, points int) int {
	if correct {
		return points
	}
	return -points
}

// Leaderboard ranks players by score. Ties share a rank and are ordered by
// name. The host is listed only when it plays.
func Leaderboard(players []models.Player, hostPlays bool) []models.Standing {
	ranked := make([]models.Player, 0, len(players))
	for _, p := range players {
		if p.IsHost && !hostPlays {
			continue
		}
		ranked = append(ranked, p)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return strings.ToLower(ranked[i].Name) < strings.ToLower(ranked[j].Name)
	})

	standings := make([]models.Standing, len(ranked))
	for i, p := range ranked {
		rank := i + 1
		if i > 0 && p.Score == ranked[i-1].Score {
			rank = standings[i-1].Rank
		}
		standings[i] = models.Standing{
			Rank:        rank,
			Name:        p.Name,
			Score:       p.Score,
			ArtistScore: p.ArtistScore,
			TitleScore:  p.TitleScore,
			YearScore:   p.YearScore,
		}
	}
	return standings
}
