package slanalytics

import (
	"strconv"
	"strings"
	"time"
)

// ClickTime est un horodatage tolérant: ISO-8601 ou epoch (secondes ou
// millisecondes) sur le fil. Une valeur illisible donne un temps zéro au
// lieu d'une erreur, l'agrégation décide ensuite quoi en faire.
type ClickTime struct {
	time.Time
}

// Valid indique si l'horodatage a pu être interprété
func (t ClickTime) Valid() bool {
	return !t.Time.IsZero()
}

func (t *ClickTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		raw := strings.Trim(s, `"`)
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"2006-01-02",
		} {
			if parsed, err := time.Parse(layout, raw); err == nil {
				t.Time = parsed
				return nil
			}
		}
		// Horodatage illisible: temps zéro, jamais d'erreur
		t.Time = time.Time{}
		return nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Au-delà de ~2100 en secondes, c'est forcément des millisecondes
		if n > 4102444800 {
			t.Time = time.UnixMilli(n).UTC()
		} else {
			t.Time = time.Unix(n, 0).UTC()
		}
		return nil
	}

	t.Time = time.Time{}
	return nil
}

func (t ClickTime) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Time.Format(time.RFC3339) + `"`), nil
}

// ClickEvent est une visite enregistrée sur un lien court, telle que servie
// par l'API analytics. Immuable: l'agrégation ne modifie jamais les
// événements, elle ne fait que dériver de nouvelles structures.
type ClickEvent struct {
	ClickedAt ClickTime `json:"clickedAt"`
	UserAgent string    `json:"userAgent"`
	Location  string    `json:"location"`
	Referrer  string    `json:"referrer"`
}

// Snapshot est la charge analytics complète d'un lien court, récupérée une
// fois par affichage. Les événements sont ordonnés du plus récent au plus
// ancien.
type Snapshot struct {
	ShortURL      string       `json:"shortUrl"`
	OriginalURL   string       `json:"originalUrl"`
	Clicks        int64        `json:"clicks"`
	CreatedAt     time.Time    `json:"createdAt"`
	QRCode        string       `json:"qrCode,omitempty"`
	AnalyticsData []ClickEvent `json:"analyticsData"`
}

// DailyClicks est une entrée de la série temporelle, un jour calendaire
type DailyClicks struct {
	Day    string `json:"name"`
	Clicks int    `json:"clicks"`
}

// CategoryCount est un couple libellé / nombre de clics
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"value"`
}

// HourlyClicks est un compteur pour une heure de la journée (0-23)
type HourlyClicks struct {
	Hour   int `json:"hour"`
	Clicks int `json:"clicks"`
}

// DerivedViews regroupe les cinq vues dérivées des événements bruts,
// recalculées intégralement à chaque nouveau snapshot.
type DerivedViews struct {
	TimeSeries   []DailyClicks   `json:"timeSeries"`
	Devices      []CategoryCount `json:"devices"`
	TopLocations []CategoryCount `json:"topLocations"`
	TopReferrers []CategoryCount `json:"topReferrers"`
	Hourly       []HourlyClicks  `json:"hourly"`
}
