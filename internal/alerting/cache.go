package alerting

import (
	"context"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/tphakala/zonewatch/internal/datastore/entities"
	"github.com/tphakala/zonewatch/internal/datastore/repository"
	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/geo"
)

// Binding ties one resolved device to one rule origin.
type Binding struct {
	RuleID         uint
	RuleName       string
	CompanyID      string
	EvaluationType EvaluationType
	Zone           geo.Zone
	OriginEntityID string
	OriginKind     string
	DeviceID       string
}

// SkippedRule is an active rule left out of a snapshot.
type SkippedRule struct {
	RuleID uint   `json:"rule_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// UnresolvedOrigin is a rule origin whose device could not be resolved.
type UnresolvedOrigin struct {
	RuleID   uint   `json:"rule_id"`
	EntityID string `json:"entity_id"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
}

// Snapshot is an immutable index of active rules by device. Snapshots are
// never modified after BuildSnapshot returns.
type Snapshot struct {
	Generation uint64
	BuiltAt    time.Time

	byDevice   map[string][]Binding
	allowList  []string
	rules      int
	skipped    []SkippedRule
	unresolved []UnresolvedOrigin
}

var emptySnapshot = &Snapshot{byDevice: map[string][]Binding{}}

// Bindings returns the rule bindings for a device. The slice is shared and
// must not be modified.
func (s *Snapshot) Bindings(deviceID string) []Binding {
	return s.byDevice[deviceID]
}

// Allowed reports whether deviceID is in the allow-list.
func (s *Snapshot) Allowed(deviceID string) bool {
	_, ok := s.byDevice[deviceID]
	return ok
}

// AllowList returns the sorted device ids referenced by the snapshot.
func (s *Snapshot) AllowList() []string {
	return slices.Clone(s.allowList)
}

// RuleCount is the number of rules with at least one resolved device.
func (s *Snapshot) RuleCount() int { return s.rules }

// DeviceCount is the length of the allow-list.
func (s *Snapshot) DeviceCount() int { return len(s.allowList) }

// Skipped lists active rules excluded from the snapshot.
func (s *Snapshot) Skipped() []SkippedRule { return slices.Clone(s.skipped) }

// Unresolved lists origins dropped while resolving devices.
func (s *Snapshot) Unresolved() []UnresolvedOrigin { return slices.Clone(s.unresolved) }

// RuleCache holds the current snapshot. Reads are lock-free.
type RuleCache struct {
	current atomic.Pointer[Snapshot]
}

// NewRuleCache returns a cache holding an empty snapshot.
func NewRuleCache() *RuleCache {
	c := &RuleCache{}
	c.current.Store(emptySnapshot)
	return c
}

// Load returns the current snapshot.
func (c *RuleCache) Load() *Snapshot {
	return c.current.Load()
}

func (c *RuleCache) store(s *Snapshot) {
	c.current.Store(s)
}

// BuildSnapshot validates rule geometry and resolves every origin to its
// current device. Rules with invalid geometry or no resolvable origin are
// recorded as skipped. Lookup failures other than a missing asset or device
// abort the build so the caller can keep its previous snapshot.
func BuildSnapshot(ctx context.Context, generation uint64, rules []entities.AlertRule, assets repository.AssetRepository) (*Snapshot, error) {
	snap := &Snapshot{
		Generation: generation,
		BuiltAt:    time.Now(),
		byDevice:   make(map[string][]Binding),
	}

	for i := range rules {
		rule := &rules[i]
		if rule.Status != entities.RuleStatusActive {
			continue
		}

		zone, err := geo.ParseGeoJSON([]byte(rule.Zone))
		if err != nil {
			snap.skipped = append(snap.skipped, SkippedRule{RuleID: rule.ID, Name: rule.Name, Reason: err.Error()})
			continue
		}

		resolved := 0
		seen := make(map[string]struct{}, len(rule.Origins))
		for _, origin := range rule.Origins {
			dev, err := assets.ResolveDevice(ctx, origin.EntityKind, origin.EntityID)
			if err != nil {
				if !unresolvable(err) {
					return nil, errors.Newf("failed to resolve origin %s/%s of rule %d: %w",
						origin.EntityKind, origin.EntityID, rule.ID, err).
						Component(component).
						Category(errors.CategoryDatabase).
						Build()
				}
				snap.unresolved = append(snap.unresolved, UnresolvedOrigin{
					RuleID:   rule.ID,
					EntityID: origin.EntityID,
					Kind:     origin.EntityKind,
					Reason:   err.Error(),
				})
				continue
			}

			key := origin.EntityKind + "/" + origin.EntityID + "@" + dev.DeviceID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			snap.byDevice[dev.DeviceID] = append(snap.byDevice[dev.DeviceID], Binding{
				RuleID:         rule.ID,
				RuleName:       rule.Name,
				CompanyID:      rule.CompanyID,
				EvaluationType: EvaluationType(rule.EvaluationType),
				Zone:           zone,
				OriginEntityID: origin.EntityID,
				OriginKind:     origin.EntityKind,
				DeviceID:       dev.DeviceID,
			})
			resolved++
		}

		if resolved == 0 {
			snap.skipped = append(snap.skipped, SkippedRule{RuleID: rule.ID, Name: rule.Name, Reason: "no resolvable origins"})
			continue
		}
		snap.rules++
	}

	snap.allowList = slices.Sorted(maps.Keys(snap.byDevice))
	return snap, nil
}

func unresolvable(err error) bool {
	return errors.Is(err, repository.ErrAssetNotFound) ||
		errors.Is(err, repository.ErrDeviceNotAssigned) ||
		errors.Is(err, repository.ErrUnknownOriginKind)
}
