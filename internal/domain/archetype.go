package domain

import "strings"

// Archetype es la categoría gruesa del wording del mercado. Se usa para
// buscar el win rate histórico del bucket, no para nada semántico más fino.
type Archetype string

const (
	ArchetypeIntradayUpDown Archetype = "intraday_updown"  // "Bitcoin up or down today?"
	ArchetypePriceRange     Archetype = "price_range"      // "ETH between $3000 and $3200?"
	ArchetypePriceAbove     Archetype = "price_above"      // "BTC above $100k on Friday?"
	ArchetypeLongshot       Archetype = "directional_longshot"
	ArchetypeModelRanking   Archetype = "model_ranking"    // "Will GPT-5 be #1 on the leaderboard?"
	ArchetypeOther          Archetype = "other"
)

// ClassifyTitle clasifica el título del mercado en un Archetype.
// Pattern matching sobre minúsculas — deliberadamente tosco: el objetivo es
// agrupar mercados con la misma microestructura, no entender la pregunta.
func ClassifyTitle(title string) Archetype {
	t := strings.ToLower(title)

	switch {
	case containsAny(t, "up or down", "higher or lower", "close higher", "close lower"):
		return ArchetypeIntradayUpDown
	case containsAny(t, "between $", "between ", "in the range", "range of $"):
		return ArchetypePriceRange
	case containsAny(t, "above $", "above ", "reach $", "hit $", "exceed $", "over $"):
		return ArchetypePriceAbove
	case containsAny(t, "top model", "#1", "rank", "leaderboard", "best model"):
		return ArchetypeModelRanking
	case containsAny(t, "all-time high", "ath", "flip", "10x", "double"):
		return ArchetypeLongshot
	default:
		return ArchetypeOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// PriceZone es la banda de precio usada para los multiplicadores empíricos
// y los buckets finos del smoothing.
type PriceZone string

const (
	ZoneGarbage    PriceZone = "sub30"   // < 0.30 — históricamente irrecuperable
	ZoneLow        PriceZone = "30-40"
	ZoneCoinflip   PriceZone = "40-50"
	ZoneMid        PriceZone = "50-65"
	ZoneSweetSpot  PriceZone = "65-75"   // mejor zona empírica
	ZoneHigh       PriceZone = "75-85"
	ZoneNearLock   PriceZone = "85plus"
)

// ZoneForPrice devuelve la banda para un precio YES en [0,1].
func ZoneForPrice(price float64) PriceZone {
	switch {
	case price < 0.30:
		return ZoneGarbage
	case price < 0.40:
		return ZoneLow
	case price < 0.50:
		return ZoneCoinflip
	case price < 0.65:
		return ZoneMid
	case price < 0.75:
		return ZoneSweetSpot
	case price < 0.85:
		return ZoneHigh
	default:
		return ZoneNearLock
	}
}
