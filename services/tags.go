package services

import (
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"arena-ladder/models"
)

const (
	MaxTagLength = 32
	MaxTagCount  = 32
)

// SanitizeTags lowercases and slugifies raw tags, drops empties and
// duplicates and caps both tag length and count.
func SanitizeTags(raw []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range raw {
		t := slug.Make(r)
		if len(t) > MaxTagLength {
			t = strings.TrimRight(t[:MaxTagLength], "-")
		}
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == MaxTagCount {
			break
		}
	}
	return out
}

// tagsByOwner groups each participant's tags under the bot owner. Two bots of
// the same owner share one tag set.
func tagsByOwner(ownerIDs [2]string, tags [2][]string) map[string][]string {
	byOwner := make(map[string][]string)
	for i := range ownerIDs {
		if ownerIDs[i] == "" || tags[i] == nil {
			continue
		}
		byOwner[ownerIDs[i]] = append(byOwner[ownerIDs[i]], tags[i]...)
	}
	for owner, t := range byOwner {
		merged := SanitizeTags(t)
		sort.Strings(merged)
		byOwner[owner] = merged
	}
	return byOwner
}

// replaceMatchTags swaps each owner's tags on the match for the new set.
func replaceMatchTags(tx *gorm.DB, matchID string, byOwner map[string][]string) error {
	owners := make([]string, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		if err := tx.Where("match_id = ? AND user_id = ?", matchID, owner).
			Delete(&models.MatchTag{}).Error; err != nil {
			return eris.Wrap(err, "failed to clear match tags")
		}
		tags := byOwner[owner]
		if len(tags) == 0 {
			continue
		}
		rows := make([]models.MatchTag, 0, len(tags))
		for _, t := range tags {
			rows = append(rows, models.MatchTag{MatchID: matchID, UserID: owner, Tag: t})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return eris.Wrap(err, "failed to save match tags")
		}
	}
	return nil
}
