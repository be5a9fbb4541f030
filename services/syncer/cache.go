package syncer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// cacheArtifact is the per-account snapshot dumped after every
// successful cycle so downstream consumers can read the latest state
// without touching the database.
type cacheArtifact struct {
	AccountId   string   `json:"account_id"`
	GeneratedAt string   `json:"generated_at"`
	Count       int      `json:"count"`
	Assignments []Record `json:"assignments"`
}

// writeCache writes the snapshot atomically; a crash mid-write never
// leaves a torn file behind.
func writeCache(dir, accountId string, records []Record, now time.Time) error {
	if dir == "" {
		return nil
	}
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cacheArtifact{
		AccountId:   accountId,
		GeneratedAt: now.Format(time.RFC3339),
		Count:       len(records),
		Assignments: records,
	}, "", "  ")
	if err != nil {
		return err
	}

	final := filepath.Join(dir, fmt.Sprintf("%s.json", accountId))
	tmp, err := os.CreateTemp(dir, accountId+".*.tmp")
	if err != nil {
		return err
	}
	_, err = tmp.Write(data)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), final)
}
