// Package volumestore persists per-group volume, mute, ringer mode, and
// microphone mute across process restarts in an embedded SQLite database.
package volumestore

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kestrel-audio/audiocore/pkg/audioerr"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// migrations holds the ordered list of DDL/DML statements that bring the
// schema up to date. Index i corresponds to version i+1. Append, never
// edit or reorder.
var migrations = []string{
	// v1 — settings key/value store, used for volume group levels, ringer
	// mode, and microphone mute.
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	// v2 — per-group mute flags, kept separate from volume level since a
	// group can be muted at any stored volume.
	`CREATE TABLE IF NOT EXISTS group_mute (
		volume_group TEXT PRIMARY KEY,
		muted        INTEGER NOT NULL DEFAULT 0
	)`,
	// v3 — enable WAL mode for concurrent readers.
	`PRAGMA journal_mode=WAL`,
}

const (
	keyRingerMode  = "ringer_mode"
	keyMicMute     = "mic_mute"
	volumeKeyPrefix = "volume_group."

	defaultVolume = 1.0
	maxOpenTries  = 5
	openRetryWait = 200 * time.Millisecond
)

// Store owns the persisted volume/mute/ringer state, spec.md §4.5.
type Store struct {
	logger *slog.Logger
	db     *sql.DB
}

// Open opens (or creates) the database at path, retrying up to
// maxOpenTries times with a 200ms back-off before giving up — the
// underlying storage volume may not be mounted yet this early in boot,
// per spec.md §4.5. Once opened, pending migrations are applied and, if
// this is the store's first boot, every volume group is initialized to
// defaultVolume unmuted, the ringer mode to Normal, and the microphone
// unmuted.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var db *sql.DB
	var err error
	for attempt := 1; attempt <= maxOpenTries; attempt++ {
		db, err = sql.Open("sqlite", path)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			break
		}
		logger.Warn("volumestore open failed, retrying", "attempt", attempt, "error", err)
		if attempt < maxOpenTries {
			time.Sleep(openRetryWait)
		}
	}
	if err != nil {
		return nil, audioerr.New(audioerr.KindDeviceInit, "volumestore.Open", fmt.Errorf("open after %d attempts: %w", maxOpenTries, err))
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	if _, pragErr := db.Exec(`PRAGMA busy_timeout=5000`); pragErr != nil {
		logger.Warn("volumestore busy_timeout pragma failed", "error", pragErr)
	}

	s := &Store{logger: logger, db: db}
	firstBoot, err := s.migrate()
	if err != nil {
		db.Close()
		return nil, audioerr.New(audioerr.KindDeviceInit, "volumestore.Open", err)
	}
	if firstBoot {
		if err := s.initializeDefaults(); err != nil {
			db.Close()
			return nil, audioerr.New(audioerr.KindDeviceInit, "volumestore.Open", err)
		}
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() (firstBoot bool, err error) {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return false, fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return false, fmt.Errorf("read schema version: %w", err)
	}
	firstBoot = current == 0

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return false, fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return false, fmt.Errorf("record migration %d: %w", v, err)
		}
		s.logger.Debug("volumestore applied migration", "version", v)
	}
	return firstBoot, nil
}

func (s *Store) initializeDefaults() error {
	for _, group := range audiotypes.AllVolumeGroups() {
		if err := s.SetGroupVolume(group, defaultVolume); err != nil {
			return fmt.Errorf("init volume for %s: %w", group, err)
		}
		if err := s.SetGroupMute(group, false); err != nil {
			return fmt.Errorf("init mute for %s: %w", group, err)
		}
	}
	if err := s.SetRingerMode(audiotypes.RingerNormal); err != nil {
		return fmt.Errorf("init ringer mode: %w", err)
	}
	if err := s.SetMicrophoneMute(false); err != nil {
		return fmt.Errorf("init mic mute: %w", err)
	}
	return nil
}

func (s *Store) getSetting(key string) (string, bool, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *Store) setSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// SetGroupVolume persists vol for group, clamped to [0,1] (see DESIGN.md's
// Open Question decision on clamping vs. rejecting out-of-range input).
func (s *Store) SetGroupVolume(group audiotypes.VolumeGroup, vol float64) error {
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	return s.setSetting(volumeKeyPrefix+group.String(), strconv.FormatFloat(vol, 'f', -1, 64))
}

// GetGroupVolume returns the persisted volume for group, or defaultVolume
// if never set.
func (s *Store) GetGroupVolume(group audiotypes.VolumeGroup) (float64, error) {
	raw, ok, err := s.getSetting(volumeKeyPrefix + group.String())
	if err != nil {
		return 0, audioerr.New(audioerr.KindOperationFailed, "Store.GetGroupVolume", err)
	}
	if !ok {
		return defaultVolume, nil
	}
	vol, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, audioerr.New(audioerr.KindOperationFailed, "Store.GetGroupVolume", err)
	}
	return vol, nil
}

// SetStreamVolume resolves t's volume group, persists vol for it, and — if
// vol is raised above zero — clears that group's mute flag, per spec.md
// §4.5's set algorithm.
func (s *Store) SetStreamVolume(t audiotypes.StreamType, vol float64) error {
	group := audiotypes.VolumeGroupFor(t)
	if err := s.SetGroupVolume(group, vol); err != nil {
		return err
	}
	if vol > 0 {
		muted, err := s.GetGroupMute(group)
		if err != nil {
			return err
		}
		if muted {
			return s.SetGroupMute(group, false)
		}
	}
	return nil
}

// GetStreamVolume resolves t's volume group and returns its persisted
// volume, except that a ringer-sensitive stream under a non-normal ringer
// mode reads as 0 without touching the stored value, per spec.md §4.5.
func (s *Store) GetStreamVolume(t audiotypes.StreamType) (float64, error) {
	mode, err := s.GetRingerMode()
	if err != nil {
		return 0, err
	}
	if mode != audiotypes.RingerNormal && audiotypes.RingerSensitive(t) {
		return 0, nil
	}
	return s.GetGroupVolume(audiotypes.VolumeGroupFor(t))
}

// SetGroupMute persists a mute flag for group.
func (s *Store) SetGroupMute(group audiotypes.VolumeGroup, muted bool) error {
	_, err := s.db.Exec(
		`INSERT INTO group_mute(volume_group, muted) VALUES(?, ?)
		 ON CONFLICT(volume_group) DO UPDATE SET muted = excluded.muted`,
		group.String(), boolToInt(muted),
	)
	if err != nil {
		return audioerr.New(audioerr.KindOperationFailed, "Store.SetGroupMute", err)
	}
	return nil
}

// GetGroupMute returns the persisted mute flag for group, false if never
// set.
func (s *Store) GetGroupMute(group audiotypes.VolumeGroup) (bool, error) {
	var muted int
	err := s.db.QueryRow(`SELECT muted FROM group_mute WHERE volume_group = ?`, group.String()).Scan(&muted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, audioerr.New(audioerr.KindOperationFailed, "Store.GetGroupMute", err)
	}
	return muted != 0, nil
}

// SetStreamMute resolves t's volume group and persists its mute flag.
func (s *Store) SetStreamMute(t audiotypes.StreamType, muted bool) error {
	return s.SetGroupMute(audiotypes.VolumeGroupFor(t), muted)
}

// GetStreamMute resolves t's volume group and returns its persisted mute
// flag.
func (s *Store) GetStreamMute(t audiotypes.StreamType) (bool, error) {
	return s.GetGroupMute(audiotypes.VolumeGroupFor(t))
}

// SetRingerMode persists the process-wide ringer mode.
func (s *Store) SetRingerMode(mode audiotypes.RingerMode) error {
	return s.setSetting(keyRingerMode, strconv.Itoa(int(mode)))
}

// GetRingerMode returns the persisted ringer mode, RingerNormal if never
// set.
func (s *Store) GetRingerMode() (audiotypes.RingerMode, error) {
	raw, ok, err := s.getSetting(keyRingerMode)
	if err != nil {
		return audiotypes.RingerNormal, audioerr.New(audioerr.KindOperationFailed, "Store.GetRingerMode", err)
	}
	if !ok {
		return audiotypes.RingerNormal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return audiotypes.RingerNormal, audioerr.New(audioerr.KindOperationFailed, "Store.GetRingerMode", err)
	}
	return audiotypes.RingerMode(n), nil
}

// SetMicrophoneMute persists the process-wide microphone mute flag,
// tracked separately from any per-stream group since it gates capture
// regardless of which stream is recording.
func (s *Store) SetMicrophoneMute(muted bool) error {
	return s.setSetting(keyMicMute, strconv.Itoa(boolToInt(muted)))
}

// MicrophoneMuted returns the persisted microphone mute flag, false if
// never set. Satisfies internal/hdi.MicMuteSource.
func (s *Store) MicrophoneMuted() bool {
	raw, ok, err := s.getSetting(keyMicMute)
	if err != nil || !ok {
		return false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return false
	}
	return n != 0
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
