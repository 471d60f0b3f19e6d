package handlers_links

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"securelink/internal/models/slcaptchas"
	"securelink/internal/models/slgeo"
	"securelink/internal/models/slshortener"
	"securelink/internal/slmiddleware"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type LinksHandler struct {
	service  *slshortener.LinkService
	resolver *slgeo.Resolver
	captcha  *slcaptchas.Captchas
	baseURL  string
}

func NewLinksHandler(service *slshortener.LinkService, resolver *slgeo.Resolver, captcha *slcaptchas.Captchas, baseURL string) *LinksHandler {
	return &LinksHandler{
		service:  service,
		resolver: resolver,
		captcha:  captcha,
		baseURL:  baseURL,
	}
}

type ShortenRequest struct {
	URL           string `json:"url" binding:"required"`
	CaptchaID     string `json:"captchaID"`
	CaptchaAnswer string `json:"captchaAnswer"`
}

// Shorten crée un lien court. Les anonymes passent par le captcha, les
// utilisateurs connectés deviennent propriétaires du lien.
func (lh *LinksHandler) Shorten(c *gin.Context) {
	var req ShortenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	session := sessions.Default(c)
	owner, _ := session.Get("username").(string)

	if owner == "" {
		if err := lh.captcha.Verify(req.CaptchaID, req.CaptchaAnswer); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	link, err := lh.service.CreateLink(req.URL, owner)
	if err != nil {
		if errors.Is(err, slshortener.ErrInvalidURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid URL"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create link"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"shortCode":   link.ShortCode,
		"shortUrl":    fmt.Sprintf("%s/%s", lh.baseURL, link.ShortCode),
		"originalUrl": link.OriginalURL,
		"createdAt":   link.CreatedAt,
	})
}

// Redirect résout un code court et redirige vers l'URL d'origine.
// L'enregistrement du clic part en goroutine pour ne pas retarder la
// redirection: résolution géo d'abord, persistance ensuite.
func (lh *LinksHandler) Redirect(c *gin.Context) {
	code := c.Param("code")

	link, err := lh.service.FindByCode(code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
		return
	}

	userAgent := c.Request.UserAgent()
	referrer := c.Request.Referer()
	ipAddress := slmiddleware.ClientIP(c)

	go func() {
		location := lh.resolver.Resolve(context.Background(), ipAddress).Label()
		lh.service.RecordClick(link.ID, userAgent, referrer, location, ipAddress)
	}()

	c.Redirect(http.StatusFound, link.OriginalURL)
}

// MyLinks liste les liens de l'utilisateur connecté
func (lh *LinksHandler) MyLinks(c *gin.Context) {
	session := sessions.Default(c)
	owner, _ := session.Get("username").(string)

	links, err := lh.service.LinksForOwner(owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list links"})
		return
	}

	c.JSON(http.StatusOK, links)
}

// Delete supprime un lien de l'utilisateur connecté
func (lh *LinksHandler) Delete(c *gin.Context) {
	session := sessions.Default(c)
	owner, _ := session.Get("username").(string)

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid link id"})
		return
	}

	if err := lh.service.DeleteLink(uint(id), owner); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
		case errors.Is(err, slshortener.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "You don't have access to this link"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete link"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Link deleted"})
}

// Captcha sert l'image du captcha pour le raccourcissement anonyme
func (lh *LinksHandler) Captcha(c *gin.Context) {
	lh.captcha.Handler(c)
}
