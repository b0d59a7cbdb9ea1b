package pipeline

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode/utf8"
)

// CampaignBuckets is the number of synthetic campaigns users are spread over.
const CampaignBuckets = 5

const (
	maxIntentRunes = 50
	defaultIntent  = "general"
)

// CampaignFor maps a user to one of CampaignBuckets campaigns. FNV-1a is
// stable across processes, so a user always lands in the same campaign.
func CampaignFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return fmt.Sprintf("campaign_%d", h.Sum32()%CampaignBuckets)
}

// IntentFor derives a coarse intent from the first whitespace-separated word
// of a message, lowercased and capped at 50 runes.
func IntentFor(message string) string {
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return defaultIntent
	}
	word := strings.ToLower(fields[0])
	if utf8.RuneCountInString(word) > maxIntentRunes {
		word = string([]rune(word)[:maxIntentRunes])
	}
	return word
}
