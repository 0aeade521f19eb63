package simulate

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const randomFloatDivisor = 1_000_000

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// conclude decides the simulated result of one contest from its first
// prediction. The favourite wins with probability accuracy.
func conclude(p *prediction, accuracy float64, now time.Time) (conclusion, bool) {
	favourite := p.PredictedWinner
	underdog := p.CompetitorB
	if favourite == p.CompetitorB {
		underdog = p.CompetitorA
	}

	favouriteWon := getRandomFloat() < accuracy
	winner := underdog
	score := "4-6 7-6 6-3"
	minutes := 150
	if favouriteWon {
		winner = favourite
		score = "6-4 6-3"
		minutes = 95
	}

	return conclusion{
		EventID:         fmt.Sprintf("sim-%s-%s", p.ContestID, uuid.NewString()),
		ContestID:       p.ContestID,
		TS:              now.UTC().Format(time.RFC3339),
		WinnerID:        winner,
		Score:           score,
		DurationMinutes: minutes,
	}, favouriteWon
}
