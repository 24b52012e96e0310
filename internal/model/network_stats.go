package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxLevels is the number of relative depths aggregated per user.
const MaxLevels = 5

// NetworkStats is a rebuildable cache over network_nodes and referral_edges.
type NetworkStats struct {
	UserID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	DirectCount int       `gorm:"not null;default:0" json:"direct_count"`
	TotalCount  int       `gorm:"not null;default:0" json:"total_count"`
	Level1Count int       `gorm:"column:level1_count;not null;default:0" json:"level_1_count"`
	Level2Count int       `gorm:"column:level2_count;not null;default:0" json:"level_2_count"`
	Level3Count int       `gorm:"column:level3_count;not null;default:0" json:"level_3_count"`
	Level4Count int       `gorm:"column:level4_count;not null;default:0" json:"level_4_count"`
	Level5Count int       `gorm:"column:level5_count;not null;default:0" json:"level_5_count"`
	LastUpdated time.Time `json:"last_updated"`
}

func (NetworkStats) TableName() string { return "network_stats" }

// NewNetworkStats builds stats from per-level counts; levels[0] is relative depth 1.
func NewNetworkStats(user uuid.UUID, direct int, levels [MaxLevels]int, at time.Time) *NetworkStats {
	s := &NetworkStats{UserID: user, DirectCount: direct, LastUpdated: at}
	s.SetLevels(levels)
	return s
}

func (s *NetworkStats) Levels() [MaxLevels]int {
	return [MaxLevels]int{s.Level1Count, s.Level2Count, s.Level3Count, s.Level4Count, s.Level5Count}
}

// SetLevels overwrites the level counters and keeps TotalCount in sync.
func (s *NetworkStats) SetLevels(levels [MaxLevels]int) {
	s.Level1Count, s.Level2Count, s.Level3Count, s.Level4Count, s.Level5Count =
		levels[0], levels[1], levels[2], levels[3], levels[4]
	total := 0
	for _, n := range levels {
		total += n
	}
	s.TotalCount = total
}

// SameCounts reports whether two snapshots carry identical counters.
func (s *NetworkStats) SameCounts(other *NetworkStats) bool {
	if other == nil {
		return false
	}
	return s.DirectCount == other.DirectCount &&
		s.TotalCount == other.TotalCount &&
		s.Levels() == other.Levels()
}
