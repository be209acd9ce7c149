package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketActions     = "actions"
	bucketWarnings    = "warnings"
	bucketFederations = "federations"
	bucketChatFeds    = "chat_feds"
	bucketFloodConfig = "flood_config"
	bucketChatConfig  = "chat_settings"
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/groupwarden.db.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "groupwarden.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{
			bucketActions, bucketWarnings, bucketFederations,
			bucketChatFeds, bucketFloodConfig, bucketChatConfig,
		} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// actionKey builds the per-(chat,user,kind) history key.
func actionKey(chatID, userID int64, kind ActionKind) []byte {
	return []byte(strconv.FormatInt(chatID, 10) + "/" + strconv.FormatInt(userID, 10) + "/" + string(kind))
}

func userKey(chatID, userID int64) []byte {
	return []byte(strconv.FormatInt(chatID, 10) + "/" + strconv.FormatInt(userID, 10))
}

func chatKey(chatID int64) []byte {
	return []byte(strconv.FormatInt(chatID, 10))
}

// ---- Action ledger ---------------------------------------------------------

func loadHistory(b *bolt.Bucket, key []byte) ([]ActionRecord, error) {
	raw := b.Get(key)
	if raw == nil {
		return nil, nil
	}
	var history []ActionRecord
	if err := msgpack.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("unmarshal action history for %s: %w", key, err)
	}
	return history, nil
}

func saveHistory(b *bolt.Bucket, key []byte, history []ActionRecord) error {
	data, err := msgpack.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal action history: %w", err)
	}
	return b.Put(key, data)
}

func activeIndex(history []ActionRecord) int {
	// Newest records are appended last; scan backwards.
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Status == StatusActive {
			return i
		}
	}
	return -1
}

func (s *bboltStore) ActiveAction(chatID, userID int64, kind ActionKind) (*ActionRecord, error) {
	var rec *ActionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		history, err := loadHistory(tx.Bucket([]byte(bucketActions)), actionKey(chatID, userID, kind))
		if err != nil {
			return err
		}
		if i := activeIndex(history); i >= 0 {
			r := history[i]
			rec = &r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *bboltStore) AppendAction(rec ActionRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketActions))
		key := actionKey(rec.ChatID, rec.UserID, rec.Kind)
		history, err := loadHistory(b, key)
		if err != nil {
			return err
		}
		history = append(history, rec)
		return saveHistory(b, key, history)
	})
}

func (s *bboltStore) SupersedeAndAppend(rec ActionRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketActions))
		key := actionKey(rec.ChatID, rec.UserID, rec.Kind)
		history, err := loadHistory(b, key)
		if err != nil {
			return err
		}
		if i := activeIndex(history); i >= 0 {
			history[i].Status = StatusSuperseded
			history[i].ClosedAt = rec.IssuedAt
		}
		history = append(history, rec)
		return saveHistory(b, key, history)
	})
}

func (s *bboltStore) CloseAction(chatID, userID int64, kind ActionKind, id string, status ActionStatus, closedAt time.Time) error {
	return s.mutateRecord(chatID, userID, kind, id, func(r *ActionRecord) {
		r.Status = status
		r.ClosedAt = closedAt
	})
}

func (s *bboltStore) MarkEnforced(chatID, userID int64, kind ActionKind, id string, at time.Time) error {
	return s.mutateRecord(chatID, userID, kind, id, func(r *ActionRecord) {
		r.EnforcedAt = at
	})
}

func (s *bboltStore) mutateRecord(chatID, userID int64, kind ActionKind, id string, fn func(*ActionRecord)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketActions))
		key := actionKey(chatID, userID, kind)
		history, err := loadHistory(b, key)
		if err != nil {
			return err
		}
		for i := range history {
			if history[i].ID == id {
				fn(&history[i])
				return saveHistory(b, key, history)
			}
		}
		return ErrNotFound
	})
}

func (s *bboltStore) ActionHistory(chatID, userID int64, kind ActionKind) ([]ActionRecord, error) {
	var history []ActionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		history, err = loadHistory(tx.Bucket([]byte(bucketActions)), actionKey(chatID, userID, kind))
		return err
	})
	return history, err
}

func (s *bboltStore) ActiveTimedActions() ([]ActionRecord, error) {
	return s.scanActive(func(r *ActionRecord) bool { return r.Timed() })
}

func (s *bboltStore) ActiveUnconfirmed() ([]ActionRecord, error) {
	return s.scanActive(func(r *ActionRecord) bool { return r.EnforcedAt.IsZero() })
}

func (s *bboltStore) scanActive(match func(*ActionRecord) bool) ([]ActionRecord, error) {
	var out []ActionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketActions)).ForEach(func(k, v []byte) error {
			var history []ActionRecord
			if err := msgpack.Unmarshal(v, &history); err != nil {
				return nil // skip corrupt entries
			}
			if i := activeIndex(history); i >= 0 && match(&history[i]) {
				out = append(out, history[i])
			}
			return nil
		})
	})
	return out, err
}

func (s *bboltStore) CountActive() (map[ActionKind]int, error) {
	counts := make(map[ActionKind]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketActions)).ForEach(func(k, v []byte) error {
			var history []ActionRecord
			if err := msgpack.Unmarshal(v, &history); err != nil {
				return nil
			}
			if i := activeIndex(history); i >= 0 {
				counts[history[i].Kind]++
			}
			return nil
		})
	})
	return counts, err
}

// ---- Warnings --------------------------------------------------------------

func (s *bboltStore) Warnings(chatID, userID int64) (WarnState, error) {
	var state WarnState
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketWarnings)).Get(userKey(chatID, userID))
		if raw == nil {
			return nil
		}
		return msgpack.Unmarshal(raw, &state)
	})
	return state, err
}

func (s *bboltStore) AddWarning(chatID, userID int64, entry WarnEntry, maxHistory int) (WarnState, error) {
	var state WarnState
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketWarnings))
		key := userKey(chatID, userID)
		if raw := b.Get(key); raw != nil {
			if err := msgpack.Unmarshal(raw, &state); err != nil {
				return fmt.Errorf("unmarshal warn state: %w", err)
			}
		}
		state.Count++
		state.History = append(state.History, entry)
		if maxHistory > 0 && len(state.History) > maxHistory {
			state.History = state.History[len(state.History)-maxHistory:]
		}
		data, err := msgpack.Marshal(state)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return state, err
}

func (s *bboltStore) ResetWarnings(chatID, userID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketWarnings)).Delete(userKey(chatID, userID))
	})
}

// ---- Federations -----------------------------------------------------------

func (s *bboltStore) Federation(fedID string) (*Federation, error) {
	var fed *Federation
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketFederations)).Get([]byte(fedID))
		if raw == nil {
			return nil
		}
		var f Federation
		if err := msgpack.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("unmarshal federation %s: %w", fedID, err)
		}
		fed = &f
		return nil
	})
	if err != nil {
		return nil, err
	}
	if fed == nil {
		return nil, ErrNotFound
	}
	return fed, nil
}

func putFederation(b *bolt.Bucket, fed *Federation) error {
	data, err := msgpack.Marshal(fed)
	if err != nil {
		return fmt.Errorf("marshal federation: %w", err)
	}
	return b.Put([]byte(fed.ID), data)
}

func (s *bboltStore) PutFederation(fed Federation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putFederation(tx.Bucket([]byte(bucketFederations)), &fed)
	})
}

func (s *bboltStore) DeleteFederation(fedID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketFederations)).Delete([]byte(fedID))
	})
}

func (s *bboltStore) FederationByChat(chatID int64) (*Federation, error) {
	var fed *Federation
	err := s.db.View(func(tx *bolt.Tx) error {
		fedID := tx.Bucket([]byte(bucketChatFeds)).Get(chatKey(chatID))
		if fedID == nil {
			return nil
		}
		raw := tx.Bucket([]byte(bucketFederations)).Get(fedID)
		if raw == nil {
			return nil
		}
		var f Federation
		if err := msgpack.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("unmarshal federation %s: %w", fedID, err)
		}
		fed = &f
		return nil
	})
	if err != nil {
		return nil, err
	}
	if fed == nil {
		return nil, ErrNotFound
	}
	return fed, nil
}

func (s *bboltStore) MutateFederation(fedID string, fn func(*Federation) error) (*Federation, error) {
	var fed Federation
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketFederations))
		raw := b.Get([]byte(fedID))
		if raw == nil {
			return ErrNotFound
		}
		if err := msgpack.Unmarshal(raw, &fed); err != nil {
			return fmt.Errorf("unmarshal federation %s: %w", fedID, err)
		}
		if err := fn(&fed); err != nil {
			return err
		}
		return putFederation(b, &fed)
	})
	if err != nil {
		return nil, err
	}
	return &fed, nil
}

func (s *bboltStore) SetChatFederation(chatID int64, fedID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketChatFeds))
		if fedID == "" {
			return b.Delete(chatKey(chatID))
		}
		return b.Put(chatKey(chatID), []byte(fedID))
	})
}

// ---- Per-chat configuration ------------------------------------------------

func (s *bboltStore) FloodConfig(chatID int64) (*FloodConfig, error) {
	var cfg *FloodConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketFloodConfig)).Get(chatKey(chatID))
		if raw == nil {
			return nil
		}
		var c FloodConfig
		if err := msgpack.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("unmarshal flood config: %w", err)
		}
		cfg = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNotFound
	}
	return cfg, nil
}

func (s *bboltStore) SetFloodConfig(chatID int64, cfg FloodConfig) error {
	data, err := msgpack.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketFloodConfig)).Put(chatKey(chatID), data)
	})
}

func (s *bboltStore) ChatSettings(chatID int64) (*ChatSettings, error) {
	var settings *ChatSettings
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketChatConfig)).Get(chatKey(chatID))
		if raw == nil {
			return nil
		}
		var cs ChatSettings
		if err := msgpack.Unmarshal(raw, &cs); err != nil {
			return fmt.Errorf("unmarshal chat settings: %w", err)
		}
		settings = &cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, ErrNotFound
	}
	return settings, nil
}

func (s *bboltStore) SetChatSettings(chatID int64, cs ChatSettings) error {
	data, err := msgpack.Marshal(cs)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketChatConfig)).Put(chatKey(chatID), data)
	})
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
