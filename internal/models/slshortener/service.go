package slshortener

import (
	"context"
	"errors"
	"fmt"
	mrand "math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	shortCodeLength   = 8
	shortCodeCharset  = "abcdefghijklmnopqrstuvwxyz0123456789"
	maxCodeGeneration = 10
)

var (
	ErrInvalidURL = errors.New("invalid url")
	ErrForbidden  = errors.New("forbidden")
)

// LinkService gère les liens courts, leurs événements de clic et les
// compteurs temps réel Redis
type LinkService struct {
	db            *gorm.DB
	redis         *redis.Client
	cron          *cron.Cron
	retentionDays int
}

func NewLinkService(db *gorm.DB, redisClient *redis.Client, retentionDays int) *LinkService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &LinkService{
		db:            db,
		redis:         redisClient,
		cron:          setupCleanupCron(db, retentionDays),
		retentionDays: retentionDays,
	}
}

// CreateLink valide l'URL, génère un code court unique et persiste le lien.
// owner vide = lien anonyme, accessible en analytics par tout le monde.
func (ls *LinkService) CreateLink(originalURL string, owner string) (*Link, error) {
	originalURL = strings.TrimSpace(originalURL)

	u, err := url.Parse(originalURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}

	link := &Link{
		OriginalURL: originalURL,
		Owner:       owner,
	}

	// Régénérer en cas de collision de code
	for i := 0; i < maxCodeGeneration; i++ {
		link.ShortCode = generateShortCode()

		var count int64
		if err := ls.db.Model(&Link{}).Where("short_code = ?", link.ShortCode).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("error checking short code: %w", err)
		}
		if count == 0 {
			break
		}
		link.ShortCode = ""
	}
	if link.ShortCode == "" {
		return nil, fmt.Errorf("could not generate a unique short code")
	}

	if err := ls.db.Create(link).Error; err != nil {
		return nil, fmt.Errorf("error creating link: %w", err)
	}

	return link, nil
}

func generateShortCode() string {
	b := make([]byte, shortCodeLength)
	for i := range b {
		b[i] = shortCodeCharset[mrand.Intn(len(shortCodeCharset))]
	}
	return string(b)
}

// FindByCode retourne le lien portant ce code court
func (ls *LinkService) FindByCode(code string) (*Link, error) {
	var link Link
	if err := ls.db.Where("short_code = ?", code).First(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

// LinksForOwner liste les liens d'un utilisateur avec leur nombre de clics
func (ls *LinkService) LinksForOwner(owner string) ([]Link, error) {
	var links []Link
	if err := ls.db.Where("owner = ?", owner).Order("created_at desc").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("error listing links: %w", err)
	}

	for i := range links {
		ls.db.Model(&ClickEvent{}).Where("link_id = ?", links[i].ID).Count(&links[i].Clicks)
	}

	return links, nil
}

// DeleteLink supprime un lien et ses événements, propriétaire uniquement
func (ls *LinkService) DeleteLink(id uint, owner string) error {
	var link Link
	if err := ls.db.First(&link, id).Error; err != nil {
		return err
	}
	if link.Owner != owner {
		return ErrForbidden
	}

	if err := ls.db.Where("link_id = ?", id).Delete(&ClickEvent{}).Error; err != nil {
		return fmt.Errorf("error deleting click events: %w", err)
	}
	if err := ls.db.Delete(&link).Error; err != nil {
		return fmt.Errorf("error deleting link: %w", err)
	}

	return nil
}

// RecordClick persiste un événement de clic et met à jour les compteurs
// Redis. Appelé depuis une goroutine: une erreur se loggue mais ne fait
// jamais échouer la redirection.
func (ls *LinkService) RecordClick(linkID uint, userAgent, referrer, location, ipAddress string) {
	now := time.Now()

	event := ClickEvent{
		LinkID:    linkID,
		ClickedAt: now,
		UserAgent: userAgent,
		Location:  location,
		Referrer:  referrer,
		IPAddress: ipAddress,
	}

	if err := ls.db.Create(&event).Error; err != nil {
		log.Error().Err(err).Uint("link_id", linkID).Msg("error recording click event")
		return
	}

	if ls.redis == nil {
		return
	}

	// Compteur journalier pour l'accès temps réel, cache de 30 jours
	ctx := context.Background()
	cacheKey := fmt.Sprintf("clicks:daily:%d:%s", linkID, now.Format("2006-01-02"))
	ls.redis.HIncrBy(ctx, cacheKey, "clicks", 1)
	ls.redis.Expire(ctx, cacheKey, 31*24*time.Hour)
}

// Events retourne les événements d'un lien, du plus récent au plus ancien
func (ls *LinkService) Events(linkID uint) ([]ClickEvent, error) {
	var events []ClickEvent
	err := ls.db.Where("link_id = ?", linkID).Order("clicked_at desc").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("error listing click events: %w", err)
	}
	return events, nil
}

// CountClicks compte le total de clics d'un lien
func (ls *LinkService) CountClicks(linkID uint) (int64, error) {
	var count int64
	err := ls.db.Model(&ClickEvent{}).Where("link_id = ?", linkID).Count(&count).Error
	return count, err
}

// RealtimeClicks retourne les clics du jour depuis Redis
func (ls *LinkService) RealtimeClicks(linkID uint) (int64, error) {
	if ls.redis == nil {
		return 0, nil
	}

	ctx := context.Background()
	cacheKey := fmt.Sprintf("clicks:daily:%d:%s", linkID, time.Now().Format("2006-01-02"))
	clicks, err := ls.redis.HGet(ctx, cacheKey, "clicks").Int64()
	if err != nil && err != redis.Nil {
		return 0, err
	}

	return clicks, nil
}

func cleanupOldClickEvents(db *gorm.DB, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := db.Where("clicked_at < ?", cutoff).Delete(&ClickEvent{})
	if result.Error != nil {
		return result.Error
	}

	log.Info().Int64("deleted", result.RowsAffected).Msg("old click events cleaned up")
	return nil
}

func setupCleanupCron(db *gorm.DB, retentionDays int) *cron.Cron {
	c := cron.New()

	// Exécuter tous les jours à 2h du matin
	c.AddFunc("0 2 * * *", func() {
		if err := cleanupOldClickEvents(db, retentionDays); err != nil {
			log.Error().Err(err).Msg("click events cleanup failed")
		}
	})

	c.Start()
	return c
}
