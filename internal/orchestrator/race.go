package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"circuitrunners/internal/events"
	"circuitrunners/internal/progress"
	"circuitrunners/internal/rooms"
	"circuitrunners/internal/standings"
	"circuitrunners/internal/track"
	"circuitrunners/pkg/metrics"
)

// StartRace begins the countdown in participantID's room. Only the host may
// start, and only from the waiting state; other states are ignored.
func (o *Orchestrator) StartRace(participantID string) error {
	room := o.store.RoomOf(participantID)
	if room == nil {
		return nil
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()
	p := room.Participant(participantID)
	if p == nil {
		return nil
	}
	if !p.IsHost {
		o.metrics.RecordUnauthorized()
		o.notify.Send(participantID, events.ErrorMessage, events.ErrorPayload{Message: msgNotHostStart})
		return ErrNotHost
	}
	if room.State != rooms.StateWaiting {
		o.logger.Debug("start ignored", zap.String("room", room.ID), zap.String("state", string(room.State)))
		return nil
	}

	room.State = rooms.StateCountdown
	room.Touch(o.now())
	ctx := room.StartPhase()
	go o.countdown(ctx, room)

	o.publish(room, events.RoomState)
	o.metrics.RecordCountdown()
	o.logger.Info("countdown started", zap.String("room", room.ID), zap.Int("from", o.countdownFrom))
	return nil
}

// countdown emits countdownFrom..0, one per interval, then starts the race.
// It stops without emitting when ctx is cancelled or the room moved on.
func (o *Orchestrator) countdown(ctx context.Context, room *rooms.Room) {
	timer := time.NewTimer(o.countdownInterval)
	defer timer.Stop()

	for t := o.countdownFrom; t >= 0; t-- {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		room.Mu.Lock()
		if ctx.Err() != nil || room.State != rooms.StateCountdown {
			room.Mu.Unlock()
			return
		}
		ids := room.MemberIDs()
		o.notify.Broadcast(ids, events.Countdown, events.CountdownPayload{Time: t})
		if t == 0 {
			room.State = rooms.StatePlaying
			o.notify.Broadcast(ids, events.StartRace, events.StartRacePayload{RoomID: room.ID})
			o.publish(room, events.RoomState)
			if room.Race != nil && o.standingsHz > 0 {
				go o.pushStandings(ctx, room)
			}
			room.Mu.Unlock()

			o.metrics.RecordRaceStarted()
			o.logger.Info("race started", zap.String("room", room.ID), zap.Int("participants", len(ids)))
			return
		}
		room.Mu.Unlock()
		timer.Reset(o.countdownInterval)
	}
}

// pushStandings broadcasts the room's standings while it is playing.
func (o *Orchestrator) pushStandings(ctx context.Context, room *rooms.Room) {
	r := standings.NewRefresher(o.standingsHz, room.Race.Standings, func(entries []standings.Entry) {
		room.Mu.Lock()
		defer room.Mu.Unlock()
		if ctx.Err() != nil || room.State != rooms.StatePlaying {
			return
		}
		o.notify.Broadcast(room.MemberIDs(), events.Standings, entries)
	})
	r.Run(ctx)
}

// RestartRace returns a started or finished race to the waiting state and
// clears all progress. Host only.
func (o *Orchestrator) RestartRace(participantID string) error {
	room := o.store.RoomOf(participantID)
	if room == nil {
		return nil
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()
	p := room.Participant(participantID)
	if p == nil {
		return nil
	}
	if !p.IsHost {
		o.metrics.RecordUnauthorized()
		o.notify.Send(participantID, events.ErrorMessage, events.ErrorPayload{Message: msgNotHostRestart})
		return ErrNotHost
	}
	if room.State == rooms.StateWaiting {
		return nil
	}

	room.StopPhase()
	room.State = rooms.StateWaiting
	for _, m := range room.Participants() {
		m.Checkpoint = 0
	}
	if room.Race != nil {
		room.Race.Reset()
	}
	room.Touch(o.now())

	ids := room.MemberIDs()
	o.notify.Broadcast(ids, events.RaceReset, events.RaceResetPayload{RoomID: room.ID})
	o.notify.Broadcast(ids, events.RoomUpdate, members(room))
	o.publish(room, events.RoomState)
	o.logger.Info("race reset", zap.String("room", room.ID))
	return nil
}

// ReportPosition stores the sender's position and relays it to everyone
// else in the room.
func (o *Orchestrator) ReportPosition(participantID string, pos track.Vec3) {
	room := o.store.RoomOf(participantID)
	if room == nil {
		return
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()
	p := room.Participant(participantID)
	if p == nil {
		return
	}
	p.Position = pos
	room.Touch(o.now())
	o.notify.BroadcastExcept(room.MemberIDs(), participantID, events.PlayerPositions, events.PlayerPosition{
		ID: participantID,
		X:  pos.X,
		Y:  pos.Y,
		Z:  pos.Z,
	})
}

// ReportCheckpoint records the sender's latest checkpoint, broadcasts the
// room ranking and, while racing on a known track, advances lap progress.
func (o *Orchestrator) ReportCheckpoint(participantID string, cpIndex int) {
	if cpIndex < 0 {
		o.metrics.RecordCheckpoint(metrics.OutcomeInvalid)
		return
	}
	room := o.store.RoomOf(participantID)
	if room == nil {
		return
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()
	p := room.Participant(participantID)
	if p == nil {
		return
	}
	if room.Race != nil && !room.Race.Track().Valid(cpIndex) {
		o.metrics.RecordCheckpoint(metrics.OutcomeInvalid)
		o.logger.Debug("checkpoint out of range", zap.String("room", room.ID), zap.Int("checkpoint", cpIndex))
		return
	}

	now := o.now()
	p.Checkpoint = cpIndex
	room.Touch(now)
	o.notify.Broadcast(room.MemberIDs(), events.RankUpdate, ranking(room))

	if room.Race == nil || room.State != rooms.StatePlaying {
		return
	}
	res, ok := room.Race.Report(participantID, cpIndex, p.Position, now)
	if !ok {
		o.metrics.RecordCheckpoint(metrics.OutcomeDebounced)
		return
	}
	o.metrics.RecordCheckpoint(outcomeLabel(res))
	if !res.Applied() {
		return
	}

	entries := room.Race.Standings()
	if winner, won := o.observer.Winner(entries); won {
		o.finish(room, winner, entries, now)
	}
}

// finish must be called with room.Mu held.
func (o *Orchestrator) finish(room *rooms.Room, winner standings.Entry, entries []standings.Entry, at time.Time) {
	room.StopPhase()
	room.State = rooms.StateFinished

	names := make(map[string]string, room.Len())
	for _, p := range room.Participants() {
		names[p.ID] = p.Name
	}

	o.notify.Broadcast(room.MemberIDs(), events.RaceFinished, events.RaceFinishedPayload{
		RoomID:     room.ID,
		WinnerID:   winner.RacerID,
		WinnerName: names[winner.RacerID],
		Standings:  entries,
	})
	o.publish(room, events.RoomState)
	o.metrics.RecordRaceFinished()
	o.logger.Info("race finished",
		zap.String("room", room.ID),
		zap.String("winner", winner.RacerID),
		zap.Int("laps", winner.Laps))

	if o.recorder == nil {
		return
	}
	result := RaceResult{
		RoomID:     room.ID,
		WinnerID:   winner.RacerID,
		WinnerName: names[winner.RacerID],
		FinishedAt: at,
		Placings:   make([]Placing, len(entries)),
	}
	for i, e := range entries {
		result.Placings[i] = Placing{
			ParticipantID: e.RacerID,
			Name:          names[e.RacerID],
			Rank:          e.Rank,
			Laps:          e.Laps,
			Score:         e.Score,
		}
	}
	o.recorder.RecordRace(result)
}

func outcomeLabel(r progress.Result) string {
	switch r {
	case progress.ResultLap:
		return metrics.OutcomeLap
	case progress.ResultOutOfOrder:
		return metrics.OutcomeOutOfOrder
	case progress.ResultInvalid:
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeAccepted
	}
}
