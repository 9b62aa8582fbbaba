package hub

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"duckling", "fawn", "lamb", "porcupine", "raccoon", "beaver", "seahorse", "starfish", "dolphin", "narwhal",
	"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "canary",
}

// guestName picks a readable name for members that join without one,
// avoiding the names in taken.
func guestName(taken map[string]bool) string {
	for i := 0; i < 32; i++ {
		name := fmt.Sprintf("%s-%s", pick(adjectives), pick(animals))
		if !taken[name] {
			return name
		}
	}
	return fmt.Sprintf("%s-%s-%d", pick(adjectives), pick(animals), len(taken))
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return words[0]
	}
	return words[n.Int64()]
}
