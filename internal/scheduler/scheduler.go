package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stellarlinkco/hearth/internal/config"
	"github.com/stellarlinkco/hearth/internal/logging"
	"github.com/stellarlinkco/hearth/internal/prompt"
	"github.com/stellarlinkco/hearth/internal/statestore"
	"github.com/stellarlinkco/hearth/internal/store"
)

// Sessions is the slice of the session manager the scheduler drives.
type Sessions interface {
	StartOnlineSession(ctx context.Context, cfg *store.ConversationConfig, timeOfDay string) error
	ProcessOnlineBatch(ctx context.Context, cfg *store.ConversationConfig) error
	CloseSession(ctx context.Context, cfg *store.ConversationConfig) error
}

// Scheduler turns wall-clock time into mode transitions. Each conversation
// gets three fixed daily gather→online cycles in its own timezone plus two
// random checkpoints that sometimes start an extra cycle.
type Scheduler struct {
	repo     store.Repository
	states   statestore.Client
	sessions Sessions
	presence config.PresenceConfig
	log      *logrus.Entry

	cron    *rcron.Cron
	mu      sync.Mutex
	entries map[JobID]rcron.EntryID
	timers  map[JobID]*time.Timer
	ctx     context.Context

	// rng returns a uniform draw in [0, n). Injectable for tests.
	rng func(n int) int
}

func New(repo store.Repository, states statestore.Client, sessions Sessions, presence config.PresenceConfig) *Scheduler {
	return &Scheduler{
		repo:     repo,
		states:   states,
		sessions: sessions,
		presence: presence,
		log:      logging.Component("scheduler"),
		entries:  make(map[JobID]rcron.EntryID),
		timers:   make(map[JobID]*time.Timer),
		rng:      rand.Intn,
	}
}

// Start loads every conversation and registers its triggers. A conversation
// with a broken timezone is logged and skipped; the rest keep running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	s.cron = rcron.New(rcron.WithSeconds())

	cfgs, err := s.repo.GetAllConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	scheduled := 0
	for i := range cfgs {
		if err := s.ScheduleConversation(&cfgs[i]); err != nil {
			logging.WithConversation(s.log, cfgs[i].ID).WithError(err).Error("scheduling failed, conversation skipped")
			continue
		}
		scheduled++
	}

	s.cron.Start()
	s.log.WithField("conversations", scheduled).Info("started")
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// ScheduleConversation registers (or replaces) all triggers of one
// conversation. Safe to call again after onboarding or a timezone change.
func (s *Scheduler) ScheduleConversation(cfg *store.ConversationConfig) error {
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	cycles := []struct {
		label string
		at    config.CycleTime
	}{
		{prompt.LabelMorning, s.presence.Morning},
		{prompt.LabelAfternoon, s.presence.Afternoon},
		{prompt.LabelEvening, s.presence.Evening},
	}

	for _, c := range cycles {
		// Per-cycle second jitter so a fleet of conversations in one
		// timezone does not fire in the same second.
		sec := s.rng(60)
		label := c.label

		gatherSpec := cronSpec(cfg.Timezone, sec, c.at)
		if err := s.addEntry(GatherJobID(cfg.ID, label), gatherSpec, func(id int64) func() {
			return func() { s.runGatherStart(id, label) }
		}(cfg.ID)); err != nil {
			return err
		}

		onlineSpec := cronSpec(cfg.Timezone, sec, shiftCycleTime(c.at, s.presence.GatheringMinutes))
		if err := s.addEntry(OnlineJobID(cfg.ID, label), onlineSpec, func(id int64) func() {
			return func() { s.runOnlineStart(id, label) }
		}(cfg.ID)); err != nil {
			return err
		}
	}

	checkpoints := []struct {
		id JobID
		at config.CycleTime
	}{
		{RandomDayJobID(cfg.ID), s.presence.RandomDay},
		{RandomNightJobID(cfg.ID), s.presence.RandomNight},
	}
	for _, cp := range checkpoints {
		spec := cronSpec(cfg.Timezone, s.rng(60), cp.at)
		if err := s.addEntry(cp.id, spec, func(id int64) func() {
			return func() { s.runRandomCheckpoint(id) }
		}(cfg.ID)); err != nil {
			return err
		}
	}

	return nil
}

func cronSpec(tz string, sec int, at config.CycleTime) string {
	return fmt.Sprintf("CRON_TZ=%s %d %d %d * * *", tz, sec, at.Minute, at.Hour)
}

func shiftCycleTime(at config.CycleTime, minutes int) config.CycleTime {
	total := (at.Hour*60 + at.Minute + minutes) % (24 * 60)
	return config.CycleTime{Hour: total / 60, Minute: total % 60}
}

func (s *Scheduler) addEntry(id JobID, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[id]; ok {
		s.cron.Remove(old)
	}
	entryID, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("register %s (%s): %w", id, spec, err)
	}
	s.entries[id] = entryID
	return nil
}

func (s *Scheduler) removeEntry(id JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// addTimer arms a one-shot. An existing timer with the same id is replaced.
func (s *Scheduler) addTimer(id JobID, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.timers[id] = time.AfterFunc(d, fn)
}

// loadConfig re-reads the conversation at trigger time. A conversation
// deleted since scheduling makes this occurrence a no-op.
func (s *Scheduler) loadConfig(configID int64) *store.ConversationConfig {
	cfg, err := s.repo.GetConfigByID(s.ctx, configID)
	if err != nil {
		logging.WithConversation(s.log, configID).WithError(err).Warn("conversation lookup failed, trigger skipped")
		return nil
	}
	return cfg
}

func (s *Scheduler) runGatherStart(configID int64, label string) {
	cfg := s.loadConfig(configID)
	if cfg == nil {
		return
	}
	log := logging.WithConversation(s.log, configID).WithField("time_of_day", label)

	if err := s.states.SetMode(s.ctx, configID, statestore.ModeGathering); err != nil {
		log.WithError(err).Error("enter gathering failed")
		return
	}
	if err := s.states.SetTimeOfDay(s.ctx, configID, label); err != nil {
		log.WithError(err).Warn("stamp time of day failed")
	}
	log.Info("gathering started")
}

func (s *Scheduler) runOnlineStart(configID int64, label string) {
	cfg := s.loadConfig(configID)
	if cfg == nil {
		return
	}
	log := logging.WithConversation(s.log, configID).WithField("time_of_day", label)

	if err := s.sessions.StartOnlineSession(s.ctx, cfg, label); err != nil {
		log.WithError(err).Error("opening turn failed")
		// Still go online: the pulse and the batch trigger can carry the
		// session even without an opening message.
	}
	if err := s.states.SetMode(s.ctx, configID, statestore.ModeOnline); err != nil {
		log.WithError(err).Error("enter online failed")
		return
	}

	pulse := fmt.Sprintf("@every %s", s.presence.PulseInterval())
	if err := s.addEntry(PulseJobID(configID), pulse, func() { s.runPulse(configID) }); err != nil {
		log.WithError(err).Error("register pulse failed")
	}
	s.addTimer(EndJobID(configID), s.presence.OnlineDuration(), func() { s.runOnlineEnd(configID) })

	log.Info("online session started")
}

// runPulse flushes sub-threshold remainders so a quiet chat still gets its
// batch answered.
func (s *Scheduler) runPulse(configID int64) {
	cfg := s.loadConfig(configID)
	if cfg == nil {
		return
	}
	if err := s.sessions.ProcessOnlineBatch(s.ctx, cfg); err != nil {
		logging.WithConversation(s.log, configID).WithError(err).Error("pulse batch failed")
	}
}

func (s *Scheduler) runOnlineEnd(configID int64) {
	s.removeEntry(PulseJobID(configID))

	cfg := s.loadConfig(configID)
	if cfg == nil {
		return
	}
	if err := s.sessions.CloseSession(s.ctx, cfg); err != nil {
		logging.WithConversation(s.log, configID).WithError(err).Error("close session failed")
	}
}

// runRandomCheckpoint sometimes starts an extra gather→online cycle. Only a
// conversation resting in PASSIVE is eligible: a cycle already in flight is
// never interrupted.
func (s *Scheduler) runRandomCheckpoint(configID int64) {
	log := logging.WithConversation(s.log, configID)

	if s.rng(100) >= s.presence.RandomSessionChance {
		return
	}
	mode, err := s.states.Mode(s.ctx, configID)
	if err != nil {
		log.WithError(err).Error("read mode failed")
		return
	}
	if mode != statestore.ModePassive {
		log.WithField("mode", string(mode)).Debug("not resting, random session skipped")
		return
	}

	s.runGatherStart(configID, prompt.LabelRandom)
	s.addTimer(OnlineJobID(configID, prompt.LabelRandom), s.presence.GatheringDuration(), func() {
		s.runOnlineStart(configID, prompt.LabelRandom)
	})
}
