package handlers_analytics

import (
	"net/http"
	"time"

	"securelink/internal/models/slshortener"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type AnalyticsHandler struct {
	service *slshortener.LinkService
}

func NewAnalyticsHandler(service *slshortener.LinkService) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
	}
}

// wireEvent est la forme d'un événement de clic sur le fil, telle
// qu'attendue par le client du tableau de bord
type wireEvent struct {
	ClickedAt time.Time `json:"clickedAt"`
	UserAgent string    `json:"userAgent"`
	Location  string    `json:"location"`
	Referrer  string    `json:"referrer"`
}

// GetAnalytics sert le snapshot complet d'un lien: 404 si le code est
// inconnu, 403 si le lien a un propriétaire et que l'appelant n'est pas
// celui-là, sinon la charge avec les événements du plus récent au plus
// ancien. L'agrégation en vues se fait côté consommateur, jamais ici.
func (ah *AnalyticsHandler) GetAnalytics(c *gin.Context) {
	link, ok := ah.authorizedLink(c)
	if !ok {
		return
	}

	events, err := ah.service.Events(link.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	data := make([]wireEvent, 0, len(events))
	for _, ev := range events {
		data = append(data, wireEvent{
			ClickedAt: ev.ClickedAt,
			UserAgent: ev.UserAgent,
			Location:  ev.Location,
			Referrer:  ev.Referrer,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"shortUrl":      link.ShortCode,
		"originalUrl":   link.OriginalURL,
		"clicks":        len(data),
		"createdAt":     link.CreatedAt,
		"qrCode":        link.QRCode,
		"analyticsData": data,
	})
}

// GetRealtimeStats retourne les clics du jour depuis les compteurs Redis
func (ah *AnalyticsHandler) GetRealtimeStats(c *gin.Context) {
	link, ok := ah.authorizedLink(c)
	if !ok {
		return
	}

	clicks, err := ah.service.RealtimeClicks(link.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve realtime stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"today_clicks": clicks})
}

// authorizedLink résout le code court et applique la règle d'accès: un
// lien anonyme est public, un lien possédé n'est visible que par son
// propriétaire.
func (ah *AnalyticsHandler) authorizedLink(c *gin.Context) (*slshortener.Link, bool) {
	link, err := ah.service.FindByCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
		return nil, false
	}

	if link.Owner != "" {
		session := sessions.Default(c)
		username, _ := session.Get("username").(string)
		if username != link.Owner {
			c.JSON(http.StatusForbidden, gin.H{"error": "You don't have access to this link"})
			return nil, false
		}
	}

	return link, true
}
