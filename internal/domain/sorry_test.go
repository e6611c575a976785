package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSorry(included time.Time) Sorry {
	return NewSorry(
		RepoInfo{Remote: "https://github.com/acme/proofs", Branch: "main", Commit: "abc123", LeanVersion: "v4.17.0"},
		Location{StartLine: 10, StartColumn: 2, EndLine: 10, EndColumn: 7, File: "Proofs/Basic.lean"},
		DebugInfo{Goal: "⊢ 1 + 1 = 2", URL: "https://github.com/acme/proofs/Proofs/Basic.lean"},
		Metadata{
			BlameEmailHash: HashString("dev@acme.org"),
			BlameDate:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			InclusionDate:  included,
		},
	)
}

func TestSorryID(t *testing.T) {
	t.Run("ignores inclusion date", func(t *testing.T) {
		a := sampleSorry(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		b := sampleSorry(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, a.ID, b.ID)
		assert.Len(t, a.ID, 64)
	})

	t.Run("re-extraction is idempotent", func(t *testing.T) {
		now := time.Now()
		assert.Equal(t, sampleSorry(now).ID, sampleSorry(now).ID)
	})

	t.Run("changes with any other field", func(t *testing.T) {
		base := sampleSorry(time.Now())
		mutations := map[string]func(*Sorry){
			"goal":        func(s *Sorry) { s.DebugInfo.Goal = "⊢ 2 = 2" },
			"commit":      func(s *Sorry) { s.Repo.Commit = "def456" },
			"column":      func(s *Sorry) { s.Location.StartColumn = 3 },
			"file":        func(s *Sorry) { s.Location.File = "Other.lean" },
			"blame date":  func(s *Sorry) { s.Metadata.BlameDate = s.Metadata.BlameDate.Add(time.Second) },
			"lean":        func(s *Sorry) { s.Repo.LeanVersion = "v4.18.0" },
			"email hash":  func(s *Sorry) { s.Metadata.BlameEmailHash = "000000000000" },
			"branch name": func(s *Sorry) { s.Repo.Branch = "dev" },
		}
		for name, mutate := range mutations {
			t.Run(name, func(t *testing.T) {
				s := base
				mutate(&s)
				assert.NotEqual(t, base.ID, s.ComputeID())
			})
		}
	})

	t.Run("stable across a JSON round trip with a non-UTC zone", func(t *testing.T) {
		s := sampleSorry(time.Now())
		s.Metadata.BlameDate = s.Metadata.BlameDate.In(time.FixedZone("CET", 3600))
		raw, err := json.Marshal(s)
		require.NoError(t, err)

		var back Sorry
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, s.ID, back.ComputeID())
	})
}

func TestSorryID_MatchesExistingDatabases(t *testing.T) {
	repo := RepoInfo{Remote: "https://github.com/acme/proofs", Branch: "main", Commit: "abc123", LeanVersion: "v4.17.0"}
	loc := Location{StartLine: 10, StartColumn: 2, EndLine: 10, EndColumn: 7, File: "Proofs/Basic.lean"}
	url := "https://github.com/acme/proofs/Proofs/Basic.lean"
	included := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		goal      string
		blameDate time.Time
		want      string
	}{
		{
			name:      "escapes and author offset",
			goal:      "n : ℕ\n⊢ \"n\" = n\t😀\\",
			blameDate: time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("", 3600)),
			want:      "a6f31f1ae900b4fc36adef39583432f2a5b4c2a016db4de72916d2af385652d9",
		},
		{
			name:      "utc with microseconds",
			goal:      "⊢ 1 + 1 = 2",
			blameDate: time.Date(2024, 3, 1, 12, 0, 0, 250_000_000, time.UTC),
			want:      "71dfda15467e6fd2246e20725e75f7b9dbd88406fb8548e1804639d160577c3c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewSorry(repo, loc, DebugInfo{Goal: tt.goal, URL: url}, Metadata{
				BlameEmailHash: HashString("dev@acme.org"),
				BlameDate:      tt.blameDate,
				InclusionDate:  included,
			})
			assert.Equal(t, tt.want, x.ID)
		})
	}
}

func TestIsoformat(t *testing.T) {
	assert.Equal(t, "2024-03-01T12:00:00+00:00", isoformat(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-03-01T12:00:00.000001-05:30", isoformat(time.Date(2024, 3, 1, 12, 0, 0, 1500, time.FixedZone("", -(5*3600+1800)))))
}

func TestHashString(t *testing.T) {
	assert.Len(t, HashString("x"), 12)
	assert.Equal(t, HashString("x"), HashString("x"))
	assert.NotEqual(t, HashString("x"), HashString("y"))
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{2*time.Minute + 3*time.Second, "2m 3s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
		{-time.Second, "0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HumanDuration(tt.in))
	}
}

func TestErrorKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("scan: %w", Wrap(KindNetwork, "git ls-remote", cause))

	assert.Equal(t, KindNetwork, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorKind(""), KindOf(cause))
	assert.NoError(t, Wrap(KindBuild, "lake build", nil))
}

func TestRepoReport(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRepoReport(start)
	r.Commit("a").Count = 3
	r.Commit("a").CountNewGoal = 2
	r.Commit("b").Count = 1
	r.Finish(start.Add(65*time.Second), RepoStatusUpdated, "")

	assert.Equal(t, CommitStats{Count: 4, CountNewGoal: 2}, r.Totals())
	assert.Equal(t, "1m 5s", r.TotalProcessingTime)
	assert.Equal(t, RepoStatusUpdated, r.Status)
}
