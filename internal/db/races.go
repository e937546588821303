package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PlacingRecord struct {
	ParticipantID string  `json:"participantId"`
	Name          string  `json:"name"`
	Rank          int     `json:"rank"`
	Laps          int     `json:"laps"`
	Score         float64 `json:"score"`
}

type RaceRecord struct {
	ID         string          `json:"id"`
	RoomID     string          `json:"roomId"`
	WinnerID   string          `json:"winnerId"`
	WinnerName string          `json:"winnerName"`
	FinishedAt time.Time       `json:"finishedAt"`
	Placings   []PlacingRecord `json:"placings,omitempty"`
}

// ErrRaceNotFound is returned by Race for unknown or malformed ids.
var ErrRaceNotFound = errors.New("race not found")

// BatchRecordRaces stores races and their placings in one transaction. Empty
// IDs are filled in.
func (d *DB) BatchRecordRaces(ctx context.Context, recs []RaceRecord) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	raceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO races (id, room_id, winner_id, winner_name, finished_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("preparing race statement: %w", err)
	}
	defer raceStmt.Close()

	placingStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO race_placings (race_id, participant_id, name, rank, laps, score)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("preparing placing statement: %w", err)
	}
	defer placingStmt.Close()

	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if _, err := raceStmt.ExecContext(ctx, rec.ID, rec.RoomID, rec.WinnerID, rec.WinnerName, rec.FinishedAt); err != nil {
			return fmt.Errorf("recording race %s: %w", rec.ID, err)
		}
		for _, p := range rec.Placings {
			if _, err := placingStmt.ExecContext(ctx, rec.ID, p.ParticipantID, p.Name, p.Rank, p.Laps, p.Score); err != nil {
				return fmt.Errorf("recording placing for race %s: %w", rec.ID, err)
			}
		}
	}

	return tx.Commit()
}

// RecentRaces returns up to limit races, newest first, without placings.
func (d *DB) RecentRaces(ctx context.Context, limit int) ([]RaceRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, room_id, winner_id, winner_name, finished_at
		FROM races
		ORDER BY finished_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent races: %w", err)
	}
	defer rows.Close()

	var out []RaceRecord
	for rows.Next() {
		var r RaceRecord
		if err := rows.Scan(&r.ID, &r.RoomID, &r.WinnerID, &r.WinnerName, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning race: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Race returns one race with its placings.
func (d *DB) Race(ctx context.Context, id string) (RaceRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return RaceRecord{}, ErrRaceNotFound
	}
	var r RaceRecord
	err := d.conn.QueryRowContext(ctx, `
		SELECT id, room_id, winner_id, winner_name, finished_at
		FROM races
		WHERE id = $1
	`, id).Scan(&r.ID, &r.RoomID, &r.WinnerID, &r.WinnerName, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RaceRecord{}, ErrRaceNotFound
	}
	if err != nil {
		return RaceRecord{}, fmt.Errorf("querying race %s: %w", id, err)
	}
	if r.Placings, err = d.placings(ctx, id); err != nil {
		return RaceRecord{}, err
	}
	return r, nil
}

func (d *DB) placings(ctx context.Context, raceID string) ([]PlacingRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT participant_id, name, rank, laps, score
		FROM race_placings
		WHERE race_id = $1
		ORDER BY rank
	`, raceID)
	if err != nil {
		return nil, fmt.Errorf("querying placings: %w", err)
	}
	defer rows.Close()

	var out []PlacingRecord
	for rows.Next() {
		var p PlacingRecord
		if err := rows.Scan(&p.ParticipantID, &p.Name, &p.Rank, &p.Laps, &p.Score); err != nil {
			return nil, fmt.Errorf("scanning placing: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
