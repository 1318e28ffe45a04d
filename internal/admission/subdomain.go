package admission

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// adjectives and nouns back the pseudo-random adj-noun-NNN subdomain
// generator (spec §4.3 step 5, seed scenario §8.1).
var adjectives = []string{
	"swift", "quiet", "brave", "calm", "eager", "fuzzy", "keen", "lively",
	"mellow", "nimble", "proud", "quick", "rapid", "sly", "tidy", "vivid",
	"witty", "zesty", "bold", "crisp", "dusty", "faint", "giant", "humble",
}

var nouns = []string{
	"otter", "falcon", "badger", "heron", "lynx", "marten", "osprey", "puma",
	"raven", "sparrow", "tapir", "vole", "weasel", "ibex", "jackal", "kite",
	"mole", "newt", "owl", "perch", "quail", "stoat", "toad", "wren",
}

func defaultRandSeq() int {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int(binary.BigEndian.Uint64(b[:]) & 0x7fffffffffffffff)
}

// generateSubdomain produces an "adj-noun-NNN" candidate, e.g.
// "swift-otter-042". randSeq supplies the randomness so tests can make
// it deterministic.
func generateSubdomain(randSeq func() int) string {
	n := randSeq()
	adj := adjectives[n%len(adjectives)]
	noun := nouns[(n/len(adjectives))%len(nouns)]
	num := (n / (len(adjectives) * len(nouns))) % 1000
	return fmt.Sprintf("%s-%s-%03d", adj, noun, num)
}
