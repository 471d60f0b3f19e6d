package slgeo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang/v2"
	"github.com/rs/zerolog/log"
	"securelink/internal/models/slconfig"
)

// GeoData est la réponse du service de géolocalisation (format ipapi)
type GeoData struct {
	IP          string  `json:"ip"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	CountryName string  `json:"country_name"`
	CountryCode string  `json:"country_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Label donne le libellé de localisation stocké avec l'événement de clic
func (g *GeoData) Label() string {
	switch {
	case g == nil:
		return ""
	case g.City != "" && g.CountryName != "":
		return g.City + ", " + g.CountryName
	case g.CountryName != "":
		return g.CountryName
	default:
		return g.City
	}
}

// Cache associe une IP à son résultat de résolution pour la durée de vie du
// processus, sans éviction. Un nil stocké marque un échec épuisé: l'IP ne
// sera plus jamais retentée, quitte à ne jamais récupérer si le service
// upstream revient.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*GeoData
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*GeoData),
	}
}

func (c *Cache) Get(ip string) (*GeoData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.entries[ip]
	return data, ok
}

func (c *Cache) Put(ip string, data *GeoData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ip] = data
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Resolver résout une IP en métadonnées géographiques. La base MaxMind
// locale répond d'abord si elle est configurée, sinon le service HTTP avec
// un nombre borné de tentatives espacées d'un délai constant.
type Resolver struct {
	cache       *Cache
	client      *http.Client
	service     string
	db          *geoip2.Reader
	maxAttempts int
	retryDelay  time.Duration
}

func NewResolver(cfg slconfig.GeoConfig, cache *Cache) (*Resolver, error) {
	if cache == nil {
		cache = NewCache()
	}

	r := &Resolver{
		cache:       cache,
		client:      &http.Client{Timeout: 10 * time.Second},
		service:     cfg.Service,
		maxAttempts: cfg.MaxRetries,
		retryDelay:  time.Duration(cfg.RetryDelay) * time.Millisecond,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 3
	}
	if r.retryDelay <= 0 {
		r.retryDelay = time.Second
	}

	if cfg.Mmdb != "" {
		db, err := geoip2.Open(cfg.Mmdb)
		if err != nil {
			return nil, fmt.Errorf("impossible d'ouvrir la base MaxMind %s: %w", cfg.Mmdb, err)
		}
		r.db = db
	}

	return r, nil
}

func (r *Resolver) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Resolve retourne les données géographiques d'une IP, ou nil pour
// "localisation inconnue". Jamais d'erreur pour l'appelant: un échec épuisé
// est mis en cache comme nil et court-circuite les appels suivants. Deux
// appels simultanés pour une IP absente du cache peuvent tous deux partir
// sur le réseau, le résultat est idempotent.
func (r *Resolver) Resolve(ctx context.Context, ip string) *GeoData {
	if data, ok := r.cache.Get(ip); ok {
		return data
	}

	if r.db != nil {
		if data := r.lookupLocal(ip); data != nil {
			r.cache.Put(ip, data)
			return data
		}
	}

	data := r.lookupRemote(ctx, ip)
	r.cache.Put(ip, data)
	return data
}

// lookupLocal interroge la base MaxMind, nil si l'IP n'y est pas
func (r *Resolver) lookupLocal(ip string) *GeoData {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil
	}

	record, err := r.db.City(addr)
	if err != nil {
		return nil
	}

	data := &GeoData{
		IP:          ip,
		City:        record.City.Names.English,
		CountryName: record.Country.Names.English,
		CountryCode: record.Country.ISOCode,
	}
	if data.City == "" && data.CountryName == "" {
		return nil
	}

	return data
}

// lookupRemote appelle le service HTTP avec retry à délai constant, sans
// croissance exponentielle. Après épuisement des tentatives, nil.
func (r *Resolver) lookupRemote(ctx context.Context, ip string) *GeoData {
	endpoint := fmt.Sprintf("%s/%s/json/", r.service, ip)

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		data, err := r.fetchOnce(ctx, endpoint)
		if err == nil {
			return data
		}

		if attempt == r.maxAttempts {
			break
		}

		select {
		case <-time.After(r.retryDelay):
		case <-ctx.Done():
			log.Warn().Str("ip", ip).Msg("geolocation lookup cancelled")
			return nil
		}
	}

	log.Warn().Str("ip", ip).Int("attempts", r.maxAttempts).Msg("geolocation lookup exhausted")
	return nil
}

func (r *Resolver) fetchOnce(ctx context.Context, endpoint string) (*GeoData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Tout statut non 2xx est un échec pour le retry
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("geolocation service status %d", resp.StatusCode)
	}

	var data GeoData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}

	return &data, nil
}
