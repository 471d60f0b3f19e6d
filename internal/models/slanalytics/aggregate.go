package slanalytics

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	maxLocations = 5
	maxReferrers = 6
)

// L'ordre de classification compte: un user-agent Android contient aussi
// "Linux", il doit sortir Android et jamais Linux.
var deviceCategories = []string{"Windows", "Mac", "Linux", "Android", "iOS", "Other"}

// Aggregate dérive les cinq vues d'affichage depuis la liste brute des
// événements de clic. Fonction pure: aucun effet de bord, les événements ne
// sont jamais modifiés. Le fuseau horaire sert au découpage par jour et par
// heure, nil vaut time.Local.
//
// Un événement dont l'horodatage est illisible est exclu de la série
// temporelle et de l'histogramme horaire, mais compte toujours dans les
// répartitions appareil, localisation et referrer.
func Aggregate(events []ClickEvent, loc *time.Location) DerivedViews {
	if loc == nil {
		loc = time.Local
	}

	views := DerivedViews{
		TimeSeries:   aggregateTimeSeries(events, loc),
		Devices:      aggregateDevices(events),
		TopLocations: aggregateTopN(events, maxLocations, locationKey),
		TopReferrers: aggregateTopN(events, maxReferrers, referrerKey),
		Hourly:       aggregateHourly(events, loc),
	}

	return views
}

// aggregateTimeSeries groupe les clics par jour calendaire. L'entrée est
// supposée du plus récent au plus ancien: on la parcourt à l'envers pour
// émettre les jours en ordre chronologique croissant.
func aggregateTimeSeries(events []ClickEvent, loc *time.Location) []DailyClicks {
	series := []DailyClicks{}
	index := make(map[string]int)

	for i := len(events) - 1; i >= 0; i-- {
		if !events[i].ClickedAt.Valid() {
			continue
		}
		day := events[i].ClickedAt.In(loc).Format("2006-01-02")
		if at, ok := index[day]; ok {
			series[at].Clicks++
			continue
		}
		index[day] = len(series)
		series = append(series, DailyClicks{Day: day, Clicks: 1})
	}

	return series
}

// ClassifyDevice range un user-agent dans une des six familles d'appareils.
// Totale et exclusive: chaque user-agent tombe dans exactement une famille.
func ClassifyDevice(userAgent string) string {
	if userAgent == "" {
		userAgent = "Unknown"
	}

	switch {
	case strings.Contains(userAgent, "Windows"):
		return "Windows"
	case strings.Contains(userAgent, "Macintosh"):
		return "Mac"
	case strings.Contains(userAgent, "Linux") && !strings.Contains(userAgent, "Android"):
		return "Linux"
	case strings.Contains(userAgent, "Android"):
		return "Android"
	case strings.Contains(userAgent, "iPhone"), strings.Contains(userAgent, "iPad"):
		return "iOS"
	default:
		return "Other"
	}
}

// aggregateDevices compte les clics par famille d'appareil, seules les
// familles présentes sont émises
func aggregateDevices(events []ClickEvent) []CategoryCount {
	counts := make(map[string]int)
	for _, ev := range events {
		counts[ClassifyDevice(ev.UserAgent)]++
	}

	result := []CategoryCount{}
	for _, category := range deviceCategories {
		if counts[category] > 0 {
			result = append(result, CategoryCount{Name: category, Count: counts[category]})
		}
	}

	return result
}

func locationKey(ev ClickEvent) string {
	if ev.Location == "" {
		return "Unknown"
	}
	return ev.Location
}

func referrerKey(ev ClickEvent) string {
	if ev.Referrer == "" {
		return "Direct"
	}
	return NormalizeReferrer(ev.Referrer)
}

// NormalizeReferrer réduit une URL absolue à son hostname pour que
// https://x.com/page1 et https://x.com/page2 comptent ensemble. Une valeur
// qui ne se parse pas est gardée telle quelle plutôt qu'écartée.
func NormalizeReferrer(referrer string) string {
	if !strings.Contains(referrer, "http") {
		return referrer
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return referrer
	}
	return u.Hostname()
}

// aggregateTopN compte les clics par clé et garde les n plus fréquentes,
// tri décroissant stable: à égalité l'ordre de première rencontre est gardé
func aggregateTopN(events []ClickEvent, n int, key func(ClickEvent) string) []CategoryCount {
	counts := make(map[string]int)
	order := []string{}

	for _, ev := range events {
		k := key(ev)
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		counts[k]++
	}

	result := make([]CategoryCount, 0, len(order))
	for _, k := range order {
		result = append(result, CategoryCount{Name: k, Count: counts[k]})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Count > result[j].Count
	})

	if len(result) > n {
		result = result[:n]
	}

	return result
}

// aggregateHourly remplit les 24 compteurs horaires, les heures sans clic
// sont émises à zéro contrairement aux autres vues
func aggregateHourly(events []ClickEvent, loc *time.Location) []HourlyClicks {
	hours := make([]HourlyClicks, 24)
	for i := range hours {
		hours[i].Hour = i
	}

	for _, ev := range events {
		if !ev.ClickedAt.Valid() {
			continue
		}
		hours[ev.ClickedAt.In(loc).Hour()].Clicks++
	}

	return hours
}
