package session

import (
	"fmt"
	"math/rand"
)

// Word palettes for synthesized session names.
var (
	nameAdjectives = []string{
		"Amazing", "Brilliant", "Curious", "Dynamic", "Energetic",
		"Fantastic", "Glorious", "Happy", "Incredible", "Joyful",
		"Kinetic", "Luminous", "Magnificent", "Noble", "Outstanding",
		"Powerful", "Quick", "Radiant", "Spectacular", "Tremendous",
		"Unique", "Vibrant", "Wonderful", "Exciting", "Yearning", "Zealous",
	}

	nameNouns = []string{
		"Adventure", "Journey", "Quest", "Expedition", "Voyage",
		"Trip", "Excursion", "Tour", "Outing", "Exploration",
		"Discovery", "Mission", "Campaign", "Venture", "Safari",
		"Trek", "Hike", "Walk", "Ride", "Drive", "Flight", "Cruise",
		"Gathering", "Meetup", "Session", "Event",
	}
)

// GenerateName synthesizes a two-word session name, used when a create
// request omits the name or supplies a blank one.
func GenerateName() string {
	adjective := nameAdjectives[rand.Intn(len(nameAdjectives))]
	noun := nameNouns[rand.Intn(len(nameNouns))]
	return fmt.Sprintf("%s %s", adjective, noun)
}
