// Package migrate stamps the on-disk format version and repairs derived
// state after upgrades.
package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"personaproxy/pkg/logger"
	"personaproxy/pkg/models"
	"personaproxy/pkg/store"
)

// FormatVersion is the current on-disk layout version.
const FormatVersion = 1

const versionKey = "meta:format_version"

// Ensure checks the stored format version, runs any needed repairs and
// stamps the current version. A database from a newer build is refused.
func Ensure(st *store.Store) error {
	raw, err := st.GetKey(versionKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	stored := 0
	if err == nil {
		if v, perr := strconv.Atoi(string(raw)); perr == nil {
			stored = v
		}
	}
	if stored > FormatVersion {
		return fmt.Errorf("database format version %d is newer than supported %d", stored, FormatVersion)
	}
	if stored == FormatVersion {
		return nil
	}

	// Fresh database or upgrade from an unstamped layout: derived
	// counters may be missing or stale, rebuild them from the message
	// rows before stamping.
	if stored == 0 {
		if err := RebuildCounters(st); err != nil {
			return err
		}
	}
	if err := st.SaveKey(versionKey, []byte(strconv.Itoa(FormatVersion))); err != nil {
		return err
	}
	logger.Info("format_version_stamped", zap.Int("from", stored), zap.Int("to", FormatVersion))
	return nil
}

// RebuildCounters recomputes every persona's message count from the
// substitution rows. Tombstoned rows still count; the message existed.
func RebuildCounters(st *store.Store) error {
	counts := make(map[string]map[string]uint64)
	err := st.ScanPrefix("msg:orig:", func(_ string, v []byte) bool {
		var pm models.ProxiedMessage
		if json.Unmarshal(v, &pm) != nil {
			return true
		}
		if counts[pm.Owner] == nil {
			counts[pm.Owner] = make(map[string]uint64)
		}
		counts[pm.Owner][pm.Persona]++
		return true
	})
	if err != nil {
		return err
	}

	var fixed int
	owners, err := st.ListOwnerIDs()
	if err != nil {
		return err
	}
	for _, owner := range owners {
		personas, err := st.ListPersonas(owner)
		if err != nil {
			return err
		}
		for _, p := range personas {
			want := counts[owner][p.ID]
			if p.MessageCount == want {
				continue
			}
			p.MessageCount = want
			if err := st.SavePersona(p); err != nil {
				return err
			}
			fixed++
		}
	}
	if fixed > 0 {
		logger.Info("counters_rebuilt", zap.Int("personas", fixed))
	}
	return nil
}
