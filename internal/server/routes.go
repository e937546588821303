package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"circuitrunners/internal/broadcast"
	"circuitrunners/internal/config"
	"circuitrunners/internal/db"
	"circuitrunners/internal/events"
	"circuitrunners/internal/orchestrator"
	"circuitrunners/internal/race"
	"circuitrunners/internal/rooms"
	"circuitrunners/internal/track"
	"circuitrunners/internal/wshub"
	"circuitrunners/pkg/logger"
	"circuitrunners/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

// Run wires the server from cfg and serves until ctx is done.
func Run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	log = logger.OrNop(log)
	m := metrics.NewManager()
	hub := wshub.NewHub(wshub.WithLogger(log.Named("wshub")), wshub.WithMetrics(m))
	bus := events.NewBus()

	var storeOpts []rooms.Option
	if cfg.TrackFile != "" {
		t, err := track.LoadFile(cfg.TrackFile)
		if err != nil {
			return fmt.Errorf("loading track: %w", err)
		}
		raceLog := log.Named("race")
		storeOpts = append(storeOpts, rooms.WithSessionFactory(func() *race.Session {
			return race.NewSession(t,
				race.WithSequentialOrder(cfg.SequentialOrder),
				race.WithCooldown(cfg.CheckpointCooldown),
				race.WithLogger(raceLog))
		}))
		logTrack(log, cfg.TrackFile, t)
	} else {
		log.Info("no track_file set, lap tracking disabled")
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithCountdown(cfg.CountdownFrom, cfg.CountdownInterval),
		orchestrator.WithTargetLaps(cfg.TargetLaps),
		orchestrator.WithHostMigration(cfg.HostMigration),
		orchestrator.WithStandingsRefresh(cfg.StandingsRefreshHz),
		orchestrator.WithBus(bus),
		orchestrator.WithLogger(log.Named("orchestrator")),
		orchestrator.WithMetrics(m),
	}

	srv := &Server{
		Hub:          hub,
		Broadcaster:  broadcast.NewBroadcaster(bus, log.Named("broadcast")),
		Metrics:      m,
		Logger:       log,
		ClientBuffer: cfg.ClientBuffer,
		Started:      time.Now(),
	}

	var wg sync.WaitGroup
	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()

	// Optional database connection
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Warn("database unavailable, running without persistence", zap.Error(err))
		} else {
			defer database.Close()
			if err := database.Migrate(ctx); err != nil {
				log.Error("migration failed", zap.Error(err))
			}
			writer := db.NewWriter(database, 1000, log.Named("db"))
			wg.Add(1)
			go func() {
				defer wg.Done()
				writer.Run(writerCtx)
			}()
			srv.DB = database
			orchOpts = append(orchOpts, orchestrator.WithRecorder(raceSink{writer: writer}))
		}
	} else {
		log.Info("database_url not set, running without database")
	}

	srv.Orch = orchestrator.New(rooms.NewStore(storeOpts...), hub, orchOpts...)

	go srv.Broadcaster.Run(ctx)
	go srv.Orch.RunSweeper(ctx, cfg.RoomIdleTTL)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Cancels long-lived websocket and SSE requests on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}

	stopWriter()
	wg.Wait()
	return runErr
}

func logTrack(log *zap.Logger, file string, t *track.Track) {
	log.Info("track loaded",
		zap.String("file", file),
		zap.Int("checkpoints", t.Len()),
		zap.Int("start", t.StartIndex()),
		zap.Int("preFinish", t.PreFinishIndex()))
	if t.Len() > track.MaxOrderedCheckpoints {
		log.Warn("track too long for ordered standings, racers may rank out of gate order",
			zap.Int("checkpoints", t.Len()),
			zap.Int("max", track.MaxOrderedCheckpoints))
	}
}

// Routes returns the server's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/rooms", s.handleRooms)
	mux.HandleFunc("GET /api/rooms/events", s.handleRoomEvents)
	mux.HandleFunc("GET /api/rooms/{id}", s.handleRoom)
	mux.HandleFunc("GET /api/races", s.handleRaces)
	mux.HandleFunc("GET /api/races/{id}", s.handleRace)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.Metrics.Registry(), promhttp.HandlerOpts{}))
	return mux
}

// raceSink hands finished races to the database writer.
type raceSink struct {
	writer *db.Writer
}

func (r raceSink) RecordRace(res orchestrator.RaceResult) {
	rec := db.RaceRecord{
		RoomID:     res.RoomID,
		WinnerID:   res.WinnerID,
		WinnerName: res.WinnerName,
		FinishedAt: res.FinishedAt,
		Placings:   make([]db.PlacingRecord, len(res.Placings)),
	}
	for i, p := range res.Placings {
		rec.Placings[i] = db.PlacingRecord{
			ParticipantID: p.ParticipantID,
			Name:          p.Name,
			Rank:          p.Rank,
			Laps:          p.Laps,
			Score:         p.Score,
		}
	}
	r.writer.Enqueue(rec)
}
