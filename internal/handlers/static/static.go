package handlers_static

import (
	"crypto/sha256"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
)

// StaticHandler sert le client du tableau de bord depuis le disque, avec
// minification à la volée du CSS et du JS
type StaticHandler struct {
	m          *minify.M
	staticPath string
}

func NewStaticHandler(staticPath string) *StaticHandler {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)

	return &StaticHandler{
		m:          m,
		staticPath: staticPath,
	}
}

// ServeMinified sert un fichier statique, minifié pour .css et .js
func (sh *StaticHandler) ServeMinified(c *gin.Context) {
	relative := strings.TrimPrefix(c.Param("filepath"), "/")

	// Interdire toute sortie du répertoire statique
	cleaned := filepath.Clean(relative)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	content, err := os.ReadFile(filepath.Join(sh.staticPath, cleaned))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	ext := filepath.Ext(cleaned)
	var contentType string
	var minified []byte

	switch ext {
	case ".css":
		contentType = "text/css"
		minified, err = sh.m.Bytes("text/css", content)
	case ".js":
		contentType = "application/javascript"
		minified, err = sh.m.Bytes("application/javascript", content)
	default:
		contentType = mime.TypeByExtension(ext)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
		c.Header("ETag", generateETag(content))
		c.Data(http.StatusOK, contentType, content)
		return
	}

	if err != nil {
		minified = content
	}

	// En-têtes de cache pour CSS et JS
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Header("ETag", generateETag(minified))

	c.Data(http.StatusOK, contentType, minified)
}

// SPAFallback sert index.html pour toute route inconnue hors API, le
// routage se fait côté client
func (sh *StaticHandler) SPAFallback(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	c.File(filepath.Join(sh.staticPath, "index.html"))
}

// Fonction helper pour générer un ETag
func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return fmt.Sprintf(`"%x"`, hash[:16])
}
