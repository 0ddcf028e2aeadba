package main

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// sensorPayload mirrors what the tank controller publishes.
type sensorPayload struct {
	Temp      float64 `json:"temp"`
	PH        float64 `json:"ph"`
	TDS       float64 `json:"tds"`
	Turbidity float64 `json:"turbidity"`
	NTU       int     `json:"ntu"`
	Level     int     `json:"level"`
}

type logPayload struct {
	EventType string `json:"event_type"`
	Message   string `json:"message"`
}

type scenario func(rng *rand.Rand) sensorPayload

var scenarios = map[string]scenario{
	"normal": func(rng *rand.Rand) sensorPayload {
		return healthy(rng)
	},
	"cold": func(rng *rand.Rand) sensorPayload {
		p := healthy(rng)
		p.Temp = round(jitter(rng, 14, 3), 1)
		return p
	},
	"dirty": func(rng *rand.Rand) sensorPayload {
		p := healthy(rng)
		p.NTU = 3000 + rng.Intn(800)
		p.TDS = round(jitter(rng, 260, 40), 0)
		p.Turbidity = round(jitter(rng, 4.2, 0.4), 2)
		return p
	},
	"low-level": func(rng *rand.Rand) sensorPayload {
		p := healthy(rng)
		p.Level = 300 + rng.Intn(100)
		return p
	},
	"acid": func(rng *rand.Rand) sensorPayload {
		p := healthy(rng)
		p.PH = round(jitter(rng, 5.9, 0.3), 2)
		return p
	},
	"random": func(rng *rand.Rand) sensorPayload {
		return sensorPayload{
			Temp:      round(2+rng.Float64()*28, 1),
			PH:        round(5+rng.Float64()*5, 2),
			TDS:       round(rng.Float64()*400, 0),
			Turbidity: round(rng.Float64()*5, 2),
			NTU:       rng.Intn(4500),
			Level:     rng.Intn(900) - 50,
		}
	},
}

func healthy(rng *rand.Rand) sensorPayload {
	return sensorPayload{
		Temp:      round(jitter(rng, 25.5, 0.8), 1),
		PH:        round(jitter(rng, 7.2, 0.2), 2),
		TDS:       round(jitter(rng, 140, 15), 0),
		Turbidity: round(jitter(rng, 1.1, 0.2), 2),
		NTU:       120 + rng.Intn(80),
		Level:     480 + rng.Intn(60),
	}
}

func lookupScenario(name string) (scenario, error) {
	s, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q (choose from %v)", name, scenarioNames())
	}
	return s, nil
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func jitter(rng *rand.Rand, base, spread float64) float64 {
	return base + (rng.Float64()*2-1)*spread
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
