package slanalytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State est l'état du cycle de récupération du tableau de bord
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Messages affichés à l'utilisateur, l'erreur brute n'est jamais remontée
const (
	MsgNotFound    = "Link not found"
	MsgForbidden   = "You don't have access to this link"
	MsgFetchFailed = "Failed to load analytics data"
)

// ControllerConfig regroupe les dépendances injectées du contrôleur
type ControllerConfig struct {
	BaseURL     string
	Client      *http.Client
	Timezone    *time.Location
	ExportDir   string
	ReportDelay time.Duration
	Notify      func(msg string)
	Print       func()
}

// Controller possède le cycle de vie de la récupération analytics:
// Idle → Loading → {Success, Error}, retour en Loading sur retry ou quand
// l'identifiant change. Chaque récupération porte un numéro de génération,
// une réponse arrivée après un changement plus récent est jetée au lieu
// d'écraser un état plus frais.
type Controller struct {
	config ControllerConfig

	mu         sync.Mutex
	shortURL   string
	state      State
	snapshot   *Snapshot
	views      DerivedViews
	errMsg     string
	generation uint64
	exporting  bool
	reporting  bool
}

func NewController(config ControllerConfig) *Controller {
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if config.ReportDelay == 0 {
		config.ReportDelay = 1500 * time.Millisecond
	}
	if config.Notify == nil {
		config.Notify = func(string) {}
	}
	if config.ExportDir == "" {
		config.ExportDir = "."
	}

	return &Controller{
		config: config,
		state:  StateIdle,
	}
}

// SetShortURL change le lien ciblé: l'ancien snapshot est effacé tout de
// suite pour éviter un flash de données périmées, puis la récupération part
// en arrière-plan.
func (ct *Controller) SetShortURL(ctx context.Context, shortURL string) {
	ct.mu.Lock()
	ct.shortURL = shortURL
	ct.state = StateLoading
	ct.snapshot = nil
	ct.views = DerivedViews{}
	ct.errMsg = ""
	ct.generation++
	generation := ct.generation
	ct.mu.Unlock()

	go ct.load(ctx, shortURL, generation)
}

// Retry relance la récupération du lien courant. Aucune limite sur le
// nombre de retries manuels, et jamais de retry automatique.
func (ct *Controller) Retry(ctx context.Context) {
	ct.mu.Lock()
	shortURL := ct.shortURL
	if shortURL == "" {
		ct.mu.Unlock()
		return
	}
	ct.state = StateLoading
	ct.snapshot = nil
	ct.views = DerivedViews{}
	ct.errMsg = ""
	ct.generation++
	generation := ct.generation
	ct.mu.Unlock()

	go ct.load(ctx, shortURL, generation)
}

func (ct *Controller) load(ctx context.Context, shortURL string, generation uint64) {
	snapshot, errMsg := ct.fetch(ctx, shortURL)

	ct.mu.Lock()
	defer ct.mu.Unlock()

	// Réponse périmée: une demande plus récente est partie entre-temps
	if generation != ct.generation {
		log.Debug().Str("short_url", shortURL).Msg("stale analytics response discarded")
		return
	}

	if errMsg != "" {
		ct.state = StateError
		ct.errMsg = errMsg
		return
	}

	ct.snapshot = snapshot
	ct.views = Aggregate(snapshot.AnalyticsData, ct.config.Timezone)
	ct.state = StateSuccess
}

// fetch interroge l'API et classe tout échec en un des trois messages
// utilisateur. Pas de retry automatique ici, contrairement au résolveur géo.
func (ct *Controller) fetch(ctx context.Context, shortURL string) (*Snapshot, string) {
	endpoint := fmt.Sprintf("%s/api/analytics/%s", ct.config.BaseURL, shortURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, MsgFetchFailed
	}

	resp, err := ct.config.Client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("short_url", shortURL).Msg("analytics fetch failed")
		return nil, MsgFetchFailed
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, MsgNotFound
	case http.StatusForbidden:
		return nil, MsgForbidden
	default:
		log.Warn().Int("status", resp.StatusCode).Str("short_url", shortURL).Msg("analytics fetch failed")
		return nil, MsgFetchFailed
	}

	var snapshot Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		log.Warn().Err(err).Str("short_url", shortURL).Msg("analytics payload unreadable")
		return nil, MsgFetchFailed
	}

	return &snapshot, ""
}

// ExportData sérialise le snapshot courant en JSON indenté dans
// analytics-<code>.json. Un échec se signale par notification et ne touche
// jamais l'état de récupération.
func (ct *Controller) ExportData() {
	ct.mu.Lock()
	if ct.exporting || ct.snapshot == nil {
		ct.mu.Unlock()
		return
	}
	ct.exporting = true
	snapshot := *ct.snapshot
	shortURL := ct.shortURL
	ct.mu.Unlock()

	defer func() {
		ct.mu.Lock()
		ct.exporting = false
		ct.mu.Unlock()
	}()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		ct.config.Notify("Failed to export data")
		return
	}

	filename := filepath.Join(ct.config.ExportDir, fmt.Sprintf("analytics-%s.json", shortURL))
	if err := os.WriteFile(filename, data, 0644); err != nil {
		log.Error().Err(err).Str("file", filename).Msg("analytics export failed")
		ct.config.Notify("Failed to export data")
		return
	}

	ct.config.Notify("Analytics data exported successfully")
}

// DownloadReport déclenche l'action d'impression de l'hôte après un délai
// fixe. Fire-and-forget, avec son propre drapeau d'occupation.
func (ct *Controller) DownloadReport() {
	ct.mu.Lock()
	if ct.reporting {
		ct.mu.Unlock()
		return
	}
	if ct.config.Print == nil {
		ct.mu.Unlock()
		ct.config.Notify("Failed to generate report")
		return
	}
	ct.reporting = true
	ct.mu.Unlock()

	time.AfterFunc(ct.config.ReportDelay, func() {
		ct.config.Print()
		ct.config.Notify("Report downloaded successfully")

		ct.mu.Lock()
		ct.reporting = false
		ct.mu.Unlock()
	})
}

func (ct *Controller) State() State {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.state
}

// Snapshot retourne la charge courante, nil hors de l'état Success
func (ct *Controller) Snapshot() *Snapshot {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.snapshot
}

// Views retourne les cinq vues dérivées du snapshot courant
func (ct *Controller) Views() DerivedViews {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.views
}

// ErrorMessage retourne le message classé, vide hors de l'état Error
func (ct *Controller) ErrorMessage() string {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.errMsg
}

func (ct *Controller) IsExporting() bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.exporting
}

func (ct *Controller) IsReporting() bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.reporting
}
