// Package triallog persists calibration sessions and per-trial records in
// sqlite. Every trial row is inserted (and committed) the moment it is
// collected, before the staircase is updated, so a crash mid-run loses at
// most the trial in flight.
package triallog

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/calibrate/internal/staircase"
)

// ErrNotFound is returned when a session ID does not exist in the store.
var ErrNotFound = errors.New("session not found")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidID reports whether a participant or session identifier uses only
// letters, digits, underscores, and hyphens.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Store wraps the sqlite database holding trial data.
type Store struct {
	*sql.DB
}

// Open opens (or creates) the trial store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			participant TEXT NOT NULL,
			session_label TEXT NOT NULL,
			starting_intensity INTEGER,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			aborted INTEGER NOT NULL DEFAULT 0,
			total_trials INTEGER,
			total_reversals INTEGER,
			threshold DOUBLE,
			threshold_spread DOUBLE,
			finished INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS trials (
			session_id TEXT NOT NULL,
			trial_number INTEGER NOT NULL,
			goggle_level INTEGER NOT NULL,
			uncomfortable INTEGER NOT NULL,
			reversals_so_far INTEGER NOT NULL,
			recorded_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, trial_number),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db}, nil
}

// BeginSession creates a session row and returns its generated ID.
func (s *Store) BeginSession(participant, label string, startingIntensity int) (string, error) {
	if !ValidID(participant) {
		return "", fmt.Errorf("invalid participant ID %q", participant)
	}
	if !ValidID(label) {
		return "", fmt.Errorf("invalid session ID %q", label)
	}

	id := uuid.NewString()
	_, err := s.Exec(
		`INSERT INTO sessions (session_id, participant, session_label, starting_intensity, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, participant, label, startingIntensity, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("begin session: %w", err)
	}
	return id, nil
}

// LogTrial records one trial outcome.
func (s *Store) LogTrial(sessionID string, trialNumber, level int, uncomfortable bool, reversalsSoFar int) error {
	resp := 0
	if uncomfortable {
		resp = 1
	}
	_, err := s.Exec(
		`INSERT INTO trials (session_id, trial_number, goggle_level, uncomfortable, reversals_so_far, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, trialNumber, level, resp, reversalsSoFar, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("log trial %d: %w", trialNumber, err)
	}
	return nil
}

// FinishSession writes the terminal snapshot of a completed run.
func (s *Store) FinishSession(sessionID string, sum staircase.Summary) error {
	var threshold, spread any
	if sum.HasThreshold {
		threshold = sum.Threshold
		spread = sum.Spread
	}
	finished := 0
	if sum.Finished {
		finished = 1
	}
	res, err := s.Exec(
		`UPDATE sessions SET ended_at = ?, total_trials = ?, total_reversals = ?,
		        threshold = ?, threshold_spread = ?, finished = ?
		 WHERE session_id = ?`,
		time.Now().UTC(), sum.Trials, len(sum.Reversals), threshold, spread, finished, sessionID,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return checkFound(res)
}

// MarkAborted flags a session as aborted by the operator and stamps its end
// time.
func (s *Store) MarkAborted(sessionID string) error {
	res, err := s.Exec(
		`UPDATE sessions SET aborted = 1, ended_at = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark aborted: %w", err)
	}
	return checkFound(res)
}

func checkFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Session is a stored session row.
type Session struct {
	ID                string
	Participant       string
	Label             string
	StartingIntensity int
	Aborted           bool
	TotalTrials       int
	TotalReversals    int
	Threshold         float64
	HasThreshold      bool
	Finished          bool
}

// Trial is a stored trial row.
type Trial struct {
	TrialNumber    int
	Level          int
	Uncomfortable  bool
	ReversalsSoFar int
}

// GetSession loads one session by ID.
func (s *Store) GetSession(sessionID string) (*Session, error) {
	row := s.QueryRow(
		`SELECT session_id, participant, session_label, COALESCE(starting_intensity, 0),
		        aborted, COALESCE(total_trials, 0), COALESCE(total_reversals, 0),
		        threshold, finished
		 FROM sessions WHERE session_id = ?`, sessionID)

	var out Session
	var aborted, finished int
	var threshold sql.NullFloat64
	err := row.Scan(&out.ID, &out.Participant, &out.Label, &out.StartingIntensity,
		&aborted, &out.TotalTrials, &out.TotalReversals, &threshold, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out.Aborted = aborted != 0
	out.Finished = finished != 0
	out.HasThreshold = threshold.Valid
	out.Threshold = threshold.Float64
	return &out, nil
}

// Trials returns a session's trials in presentation order.
func (s *Store) Trials(sessionID string) ([]Trial, error) {
	rows, err := s.Query(
		`SELECT trial_number, goggle_level, uncomfortable, reversals_so_far
		 FROM trials WHERE session_id = ? ORDER BY trial_number`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trials []Trial
	for rows.Next() {
		var t Trial
		var resp int
		if err := rows.Scan(&t.TrialNumber, &t.Level, &resp, &t.ReversalsSoFar); err != nil {
			return nil, err
		}
		t.Uncomfortable = resp != 0
		trials = append(trials, t)
	}
	return trials, rows.Err()
}
