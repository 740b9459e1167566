package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"gazette-pipeline/internal/model"
)

// StoreReader is the narrow store seam the Deduplicator needs — just
// enough to scan recent findings for a territory, never the whole Store.
type StoreReader interface {
	ListRecentFindingsForTerritory(ctx context.Context, territoryID string, windowHours, maxRows int) ([]model.AnalysisResult, error)
}

// recentFinding is the normalized shape Deduplicator compares against,
// built once per finding the first time it's seen.
type recentFinding struct {
	hash      string
	finding   model.Finding
	expiresAt time.Time
}

// Deduplicator drops findings that are near-duplicates of ones seen
// recently for the same territory, per spec §4.4 step 5: a stable hash
// fast-paths exact repeats, a weighted-field similarity score catches
// near-repeats above the configured threshold.
type Deduplicator struct {
	store         StoreReader
	similarityMin float64
	windowHours   int
	storeScanMax  int
	mu            sync.Mutex
	recentByTerr  map[string][]recentFinding
}

func NewDeduplicator(store StoreReader, similarityMin float64, windowHours, storeScanMax int) *Deduplicator {
	return &Deduplicator{
		store:         store,
		similarityMin: similarityMin,
		windowHours:   windowHours,
		storeScanMax:  storeScanMax,
		recentByTerr:  make(map[string][]recentFinding),
	}
}

// FindingHash computes the stable hash of a finding's normalized fields,
// per spec §4.4 step 5: type, category, orgao, editalNumero, cargo,
// totalVagas, extracted date, territory — per the §9 decision to use this
// field set uniformly for both concurso and generic findings.
func FindingHash(f model.Finding, territoryID string) string {
	parts := []string{
		string(f.Type),
		f.Category,
		stringField(f.Data, "orgao"),
		stringField(f.Data, "editalNumero"),
		stringField(f.Data, "cargo"),
		fmt.Sprintf("%v", f.Data["totalVagas"]),
		stringField(f.Data, "data"),
		territoryID,
	}
	for i, p := range parts {
		parts[i] = strings.Join(strings.Fields(strings.ToLower(p)), " ")
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:24]
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, _ := data[key].(string)
	return v
}

// Filter removes findings from in that are duplicates of something seen
// for territoryID in the last windowHours, returning the survivors and a
// count of how many were dropped. It consults the in-memory recent cache
// first, then (for concurso findings only, per spec §4.4 step 5) the
// store-backed scan bounded to storeScanMax rows.
func (d *Deduplicator) Filter(ctx context.Context, territoryID string, findings []model.Finding) ([]model.Finding, int, error) {
	d.evictExpired(territoryID)

	var storeFindings []model.Finding
	hasConcurso := false
	for _, f := range findings {
		if f.Type == model.FindingConcurso {
			hasConcurso = true
			break
		}
	}
	if hasConcurso && d.store != nil {
		results, err := d.store.ListRecentFindingsForTerritory(ctx, territoryID, d.windowHours, d.storeScanMax)
		if err != nil {
			return nil, 0, fmt.Errorf("analyzer: dedup store scan: %w", err)
		}
		for _, r := range results {
			storeFindings = append(storeFindings, r.Findings...)
		}
	}

	survivors := make([]model.Finding, 0, len(findings))
	dropped := 0

	d.mu.Lock()
	recent := d.recentByTerr[territoryID]
	d.mu.Unlock()

	for _, f := range findings {
		fHash := FindingHash(f, territoryID)
		isDup := false
		for _, r := range recent {
			if r.hash == fHash || similarity(f, r.finding) >= d.similarityMin {
				isDup = true
				break
			}
		}
		if !isDup && f.Type == model.FindingConcurso {
			for _, sf := range storeFindings {
				if FindingHash(sf, territoryID) == fHash || similarity(f, sf) >= d.similarityMin {
					isDup = true
					break
				}
			}
		}
		if isDup {
			dropped++
			continue
		}
		survivors = append(survivors, f)
	}

	d.remember(territoryID, survivors)
	return survivors, dropped, nil
}

func (d *Deduplicator) remember(territoryID string, findings []model.Finding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	expiresAt := time.Now().Add(time.Duration(d.windowHours) * time.Hour)
	for _, f := range findings {
		d.recentByTerr[territoryID] = append(d.recentByTerr[territoryID], recentFinding{
			hash:      FindingHash(f, territoryID),
			finding:   f,
			expiresAt: expiresAt,
		})
	}
}

func (d *Deduplicator) evictExpired(territoryID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	recent := d.recentByTerr[territoryID]
	if len(recent) == 0 {
		return
	}
	now := time.Now()
	kept := recent[:0]
	for _, r := range recent {
		if r.expiresAt.After(now) {
			kept = append(kept, r)
		}
	}
	d.recentByTerr[territoryID] = kept
}

// similarity computes a weighted sum across type/category/organization/
// edital/cargo/context equality, per spec §4.4 step 5.
func similarity(a, b model.Finding) float64 {
	if a.Type != b.Type {
		return 0
	}
	var score float64
	const (
		wCategory = 0.25
		wOrgao    = 0.2
		wEdital   = 0.25
		wCargo    = 0.15
		wContext  = 0.15
	)
	if a.Category == b.Category {
		score += wCategory
	}
	if stringField(a.Data, "orgao") == stringField(b.Data, "orgao") && stringField(a.Data, "orgao") != "" {
		score += wOrgao
	}
	if stringField(a.Data, "editalNumero") == stringField(b.Data, "editalNumero") && stringField(a.Data, "editalNumero") != "" {
		score += wEdital
	}
	if stringField(a.Data, "cargo") == stringField(b.Data, "cargo") && stringField(a.Data, "cargo") != "" {
		score += wCargo
	}
	if a.Context != "" && a.Context == b.Context {
		score += wContext
	}
	return score
}
