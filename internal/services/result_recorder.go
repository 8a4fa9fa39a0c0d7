package services

import (
	"context"
	"strings"

	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/doomedramen/autopwn-sub003/internal/repository"
	"github.com/doomedramen/autopwn-sub003/pkg/debug"
	"github.com/google/uuid"
)

// CrackedPair is one recovered credential from the tool's outfile.
type CrackedPair struct {
	Hash      string
	Plaintext string
}

// ResultRecorder persists cracked credentials against their targets.
// Each target stores its credential exactly once: the guarded update in
// the repository makes the first writer win, and later duplicate hits
// for the same target are skipped, never overwritten.
type ResultRecorder struct {
	networkRepo *repository.NetworkRepository
}

// NewResultRecorder creates a new ResultRecorder.
func NewResultRecorder(networkRepo *repository.NetworkRepository) *ResultRecorder {
	return &ResultRecorder{networkRepo: networkRepo}
}

// Record applies the cracked pairs of one job run to the job's targets
// (primary plus any consolidated targets) and returns how many targets
// were newly marked cracked. Pairs that resolve to no target are logged
// and skipped.
func (r *ResultRecorder) Record(ctx context.Context, job *models.Job, pairs []CrackedPair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	targetIDs := []uuid.UUID{job.NetworkID}
	if job.Config.IsConsolidated() {
		for _, id := range job.Config.TargetIDs {
			if id != job.NetworkID {
				targetIDs = append(targetIDs, id)
			}
		}
	}

	networks, err := r.networkRepo.ListByIDs(ctx, job.UserID, targetIDs)
	if err != nil {
		return 0, err
	}

	byBSSID := make(map[string]*models.Network, len(networks))
	for _, n := range networks {
		byBSSID[normalizeMAC(n.BSSID)] = n
	}

	recorded := 0
	for _, pair := range pairs {
		target := matchTarget(pair.Hash, networks, byBSSID)
		if target == nil {
			debug.Warning("Cracked hash for job %s matched no target: %s", job.ID, pair.Hash)
			continue
		}
		wrote, err := r.networkRepo.MarkCracked(ctx, target.ID, pair.Plaintext)
		if err != nil {
			return recorded, err
		}
		if wrote {
			recorded++
			debug.Info("Recorded credential for network %s (job %s)", target.ID, job.ID)
		} else {
			debug.Debug("Network %s already has a credential, skipping duplicate hit", target.ID)
		}
	}
	return recorded, nil
}

// matchTarget resolves a cracked hash line to one of the job's targets
// by the access point MAC embedded in the hash. With a single target
// the pair is attributed to it directly.
func matchTarget(hash string, networks []*models.Network, byBSSID map[string]*models.Network) *models.Network {
	if len(networks) == 1 {
		return networks[0]
	}
	if mac := extractAPMAC(hash); mac != "" {
		if target, ok := byBSSID[mac]; ok {
			return target
		}
	}
	return nil
}

// extractAPMAC pulls the access point MAC out of a hashcat hash line.
// hc22000 lines are WPA*TYPE*MIC*MACAP*MACSTA*ESSID*..., legacy PMKID
// lines are PMKID*MACAP*MACSTA*ESSID.
func extractAPMAC(hash string) string {
	fields := strings.Split(hash, "*")
	switch {
	case len(fields) >= 4 && strings.EqualFold(fields[0], "WPA"):
		return normalizeMAC(fields[3])
	case len(fields) >= 2:
		return normalizeMAC(fields[1])
	}
	return ""
}

func normalizeMAC(mac string) string {
	mac = strings.ToLower(mac)
	mac = strings.ReplaceAll(mac, ":", "")
	return strings.ReplaceAll(mac, "-", "")
}
