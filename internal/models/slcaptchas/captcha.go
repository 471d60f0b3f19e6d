package slcaptchas

import (
	"fmt"
	"net/http"
	"strings"

	"securelink/internal/models/slredis"

	"github.com/gin-gonic/gin"
	"github.com/mojocn/base64Captcha"
	"github.com/redis/go-redis/v9"
)

// Captchas protège le raccourcissement anonyme avec un captcha
// mathématique. En production la réponse n'est jamais renvoyée au client.
type Captchas struct {
	store      base64Captcha.Store
	driver     base64Captcha.Driver
	production bool
}

// New construit le service captcha. Avec un hôte Redis les réponses sont
// partagées entre instances, sinon le store mémoire suffit.
func New(host string, db int, production bool) *Captchas {
	var store base64Captcha.Store
	if host != "" {
		store = slredis.New(redis.NewClient(&redis.Options{
			Addr: host,
			DB:   db,
		}))
	} else {
		store = base64Captcha.DefaultMemStore
	}

	return &Captchas{
		store: store,
		driver: base64Captcha.NewDriverMath(
			80,  // hauteur
			240, // largeur
			6,   // nombre d'opérations à afficher
			base64Captcha.OptionShowHollowLine,
			nil, // couleur de fond
			nil, // police
			nil, // couleurs
		),
		production: production,
	}
}

// Generate produit un nouveau défi. Hors production la réponse est incluse
// dans la charge, ce qui permet aux tests de résoudre le captcha.
func (cap *Captchas) Generate() (map[string]any, error) {
	id, b64s, answer, err := base64Captcha.NewCaptcha(cap.driver, cap.store).Generate()
	if err != nil {
		return nil, fmt.Errorf("erreur lors de la génération du CAPTCHA")
	}

	data := gin.H{
		"captcha_id": id,
		"image":      b64s,
		"answer":     "",
	}
	if !cap.production {
		data["answer"] = answer
	}

	return data, nil
}

// Verify consomme le défi: valide ou non, il ne resservira pas
func (cap *Captchas) Verify(captchaID string, captchaAnswer string) error {
	captchaID = strings.TrimSpace(captchaID)
	captchaAnswer = strings.TrimSpace(captchaAnswer)

	if captchaID == "" || captchaAnswer == "" {
		return fmt.Errorf("CAPTCHA manquant")
	}
	if !cap.store.Verify(captchaID, captchaAnswer, true) {
		return fmt.Errorf("CAPTCHA incorrect")
	}
	return nil
}

// Handler sert un défi en JSON
func (cap *Captchas) Handler(c *gin.Context) {
	data, err := cap.Generate()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, data)
}
