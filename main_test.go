package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	handlers_analytics "securelink/internal/handlers/analytics"
	handlers_auth "securelink/internal/handlers/auth"
	handlers_links "securelink/internal/handlers/links"
	handlers_static "securelink/internal/handlers/static"
	"securelink/internal/models/slcaptchas"
	"securelink/internal/models/slconfig"
	"securelink/internal/models/slgeo"
	"securelink/internal/models/sllog"
	"securelink/internal/models/slshortener"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ============= Setup et Teardown =============

func setupTestDB(t *testing.T) *gorm.DB {
	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = testDB.AutoMigrate(&slshortener.User{}, &slshortener.Link{}, &slshortener.ClickEvent{})
	require.NoError(t, err)

	return testDB
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	sllog.InitLogger(slconfig.LoggerConfig{Level: "error"}, false)
	r := gin.New()

	// Setup sessions
	store := cookie.NewStore([]byte("test-secret"))
	r.Use(sessions.Sessions("test-session", store))

	return r
}

// setupGeoStub répond toujours la même localisation pour que Redirect
// n'aille jamais sur le réseau
func setupGeoStub(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"city":"Mumbai","country_name":"India"}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func setupLinksHandler(t *testing.T, testDB *gorm.DB) (*handlers_links.LinksHandler, *slshortener.LinkService) {
	geoStub := setupGeoStub(t)
	resolver, err := slgeo.NewResolver(slconfig.GeoConfig{
		Service:    geoStub.URL,
		MaxRetries: 1,
		RetryDelay: 1,
	}, slgeo.NewCache())
	require.NoError(t, err)

	captcha := slcaptchas.New("", 0, false)
	service := slshortener.NewLinkService(testDB, nil, 90)

	return handlers_links.NewLinksHandler(service, resolver, captcha, "http://localhost:8080"), service
}

// loggedIn simule une session ouverte pour l'utilisateur donné
func loggedIn(username string) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		session.Set("user_id", uint(1))
		session.Set("username", username)
		session.Save()
		c.Next()
	}
}

func postJSON(r *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ============= Tests pour la configuration =============

func TestCreateExampleConfig(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "test_config.yaml")

	_, err := slconfig.CreateExampleConfig(tempFile)
	assert.NoError(t, err)

	// Vérifier que le fichier existe
	_, err = os.Stat(tempFile)
	assert.NoError(t, err)

	// Vérifier le contenu
	data, err := os.ReadFile(tempFile)
	assert.NoError(t, err)

	var config slconfig.Config
	err = yaml.Unmarshal(data, &config)
	assert.NoError(t, err)
	assert.Equal(t, "sqlite", config.Database.Db)
	assert.Equal(t, "https://ipapi.co", config.Geo.Service)
	assert.Equal(t, 90, config.Analytics.RetentionDays)
}

func TestLoadConfig(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "test_load_config.yaml")
	config := &slconfig.Config{
		Database: slconfig.DatabaseConfig{
			Db:   "sqlite",
			Path: "test.db",
		},
		BaseURL: "https://short.example.com",
	}

	data, err := yaml.Marshal(config)
	require.NoError(t, err)
	err = os.WriteFile(tempFile, data, 0644)
	require.NoError(t, err)

	// Tester le chargement, les défauts géo et rétention sont appliqués
	loaded, err := slconfig.LoadConfig(tempFile)
	assert.NoError(t, err)
	assert.Equal(t, "https://short.example.com", loaded.BaseURL)
	assert.Equal(t, "https://ipapi.co", loaded.Geo.Service)
	assert.Equal(t, 3, loaded.Geo.MaxRetries)
	assert.Equal(t, 1000, loaded.Geo.RetryDelay)
	assert.Equal(t, 90, loaded.Analytics.RetentionDays)

	// Tester avec un fichier inexistant
	_, err = slconfig.LoadConfig("nonexistent.yaml")
	assert.Error(t, err)
}

// ============= Tests pour le raccourcissement =============

func TestShortenAuthenticated(t *testing.T) {
	testDB := setupTestDB(t)
	r := setupTestRouter()
	links, service := setupLinksHandler(t, testDB)

	r.Use(loggedIn("alice"))
	r.POST("/api/shorten", links.Shorten)

	w := postJSON(r, "/api/shorten", handlers_links.ShortenRequest{
		URL: "https://example.com/une/longue/page",
	})

	assert.Equal(t, http.StatusCreated, w.Code)

	var response map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Len(t, response["shortCode"], 8)
	assert.Equal(t, "https://example.com/une/longue/page", response["originalUrl"])
	assert.Contains(t, response["shortUrl"], "http://localhost:8080/")

	// Le lien appartient bien à alice
	link, err := service.FindByCode(response["shortCode"].(string))
	require.NoError(t, err)
	assert.Equal(t, "alice", link.Owner)
}

func TestShortenAnonymousRequiresCaptcha(t *testing.T) {
	testDB := setupTestDB(t)
	r := setupTestRouter()
	links, _ := setupLinksHandler(t, testDB)

	r.POST("/api/shorten", links.Shorten)

	// Sans captcha: refusé
	w := postJSON(r, "/api/shorten", handlers_links.ShortenRequest{
		URL: "https://example.com",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Avec un captcha résolu: accepté, lien anonyme
	captcha := slcaptchas.New("", 0, false)
	r2 := setupTestRouter()
	geoStub := setupGeoStub(t)
	resolver, err := slgeo.NewResolver(slconfig.GeoConfig{Service: geoStub.URL}, slgeo.NewCache())
	require.NoError(t, err)
	service := slshortener.NewLinkService(testDB, nil, 90)
	links2 := handlers_links.NewLinksHandler(service, resolver, captcha, "http://localhost:8080")
	r2.POST("/api/shorten", links2.Shorten)

	data, err := captcha.Generate()
	require.NoError(t, err)

	w = postJSON(r2, "/api/shorten", handlers_links.ShortenRequest{
		URL:           "https://example.com",
		CaptchaID:     data["captcha_id"].(string),
		CaptchaAnswer: data["answer"].(string),
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	var response map[string]any
	json.Unmarshal(w.Body.Bytes(), &response)
	link, err := service.FindByCode(response["shortCode"].(string))
	require.NoError(t, err)
	assert.Empty(t, link.Owner)
}

func TestShortenInvalidURL(t *testing.T) {
	testDB := setupTestDB(t)
	r := setupTestRouter()
	links, _ := setupLinksHandler(t, testDB)

	r.Use(loggedIn("alice"))
	r.POST("/api/shorten", links.Shorten)

	tests := []struct {
		name string
		url  string
	}{
		{"No scheme", "example.com"},
		{"Javascript scheme", "javascript:alert(1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(r, "/api/shorten", handlers_links.ShortenRequest{URL: tt.url})
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

// ============= Tests pour la redirection =============

func TestRedirect(t *testing.T) {
	testDB := setupTestDB(t)
	r := setupTestRouter()
	links, service := setupLinksHandler(t, testDB)

	link, err := service.CreateLink("https://example.com/cible", "")
	require.NoError(t, err)

	r.GET("/:code", links.Redirect)

	req := httptest.NewRequest("GET", "/"+link.ShortCode, nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	req.Header.Set("Referer", "https://google.com/search")
	req.Header.Set("X-Real-IP", "203.0.113.7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/cible", w.Header().Get("Location"))

	// L'enregistrement du clic est asynchrone, avec résolution géo
	assert.Eventually(t, func() bool {
		count, _ := service.CountClicks(link.ID)
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	events, err := service.Events(link.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", events[0].UserAgent)
	assert.Equal(t, "https://google.com/search", events[0].Referrer)
	assert.Equal(t, "Mumbai, India", events[0].Location)
	assert.Equal(t, "203.0.113.7", events[0].IPAddress)
}

func TestRedirectUnknownCode(t *testing.T) {
	testDB := setupTestDB(t)
	r := setupTestRouter()
	links, _ := setupLinksHandler(t, testDB)

	r.GET("/:code", links.Redirect)

	req := httptest.NewRequest("GET", "/inconnu0", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var response map[string]string
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "Link not found", response["error"])
}

// ============= Tests pour l'API analytics =============

func TestGetAnalytics(t *testing.T) {
	testDB := setupTestDB(t)
	r := setupTestRouter()
	_, service := setupLinksHandler(t, testDB)
	analytics := handlers_analytics.NewAnalyticsHandler(service)

	link, err := service.CreateLink("https://example.com/page", "")
	require.NoError(t, err)
	service.RecordClick(link.ID, "Mozilla/5.0 (Windows NT 10.0)", "https://google.com", "India", "203.0.113.7")
	service.RecordClick(link.ID, "Mozilla/5.0 (Linux; Android 13)", "", "India", "203.0.113.8")

	r.GET("/api/analytics/:code", analytics.GetAnalytics)

	req := httptest.NewRequest("GET", "/api/analytics/"+link.ShortCode, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]any
	err = json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, link.ShortCode, response["shortUrl"])
	assert.Equal(t, "https://example.com/page", response["originalUrl"])
	assert.Equal(t, float64(2), response["clicks"])

	events := response["analyticsData"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Contains(t, first, "clickedAt")
	assert.Contains(t, first, "userAgent")
	assert.Contains(t, first, "location")
	assert.Contains(t, first, "referrer")
	// L'adresse IP ne sort jamais sur le fil
	assert.NotContains(t, first, "ip_address")
}

func TestGetAnalyticsAccess(t *testing.T) {
	testDB := setupTestDB(t)
	_, service := setupLinksHandler(t, testDB)
	analytics := handlers_analytics.NewAnalyticsHandler(service)

	owned, err := service.CreateLink("https://example.com/prive", "alice")
	require.NoError(t, err)

	tests := []struct {
		name       string
		code       string
		username   string
		wantStatus int
		wantError  string
	}{
		{"Unknown code", "inconnu0", "", http.StatusNotFound, "Link not found"},
		{"Owned link anonymous caller", owned.ShortCode, "", http.StatusForbidden, "You don't have access to this link"},
		{"Owned link wrong user", owned.ShortCode, "bob", http.StatusForbidden, "You don't have access to this link"},
		{"Owned link owner", owned.ShortCode, "alice", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupTestRouter()
			if tt.username != "" {
				r.Use(loggedIn(tt.username))
			}
			r.GET("/api/analytics/:code", analytics.GetAnalytics)

			req := httptest.NewRequest("GET", "/api/analytics/"+tt.code, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantError != "" {
				var response map[string]string
				json.Unmarshal(w.Body.Bytes(), &response)
				assert.Equal(t, tt.wantError, response["error"])
			}
		})
	}
}

func TestGetRealtimeStats(t *testing.T) {
	testDB := setupTestDB(t)
	r := setupTestRouter()
	_, service := setupLinksHandler(t, testDB)
	analytics := handlers_analytics.NewAnalyticsHandler(service)

	link, err := service.CreateLink("https://example.com", "")
	require.NoError(t, err)

	r.GET("/api/analytics/:code/realtime", analytics.GetRealtimeStats)

	req := httptest.NewRequest("GET", "/api/analytics/"+link.ShortCode+"/realtime", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]any
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, float64(0), response["today_clicks"])
}

// ============= Tests pour la gestion des liens =============

func TestMyLinksAndDelete(t *testing.T) {
	testDB := setupTestDB(t)
	r := setupTestRouter()
	links, service := setupLinksHandler(t, testDB)

	mine, err := service.CreateLink("https://example.com/a", "alice")
	require.NoError(t, err)
	other, err := service.CreateLink("https://example.com/b", "bob")
	require.NoError(t, err)

	r.Use(loggedIn("alice"))
	r.GET("/api/links", handlers_auth.AuthRequired(), links.MyLinks)
	r.DELETE("/api/links/:id", handlers_auth.AuthRequired(), links.Delete)

	// Liste: seulement les liens d'alice
	req := httptest.NewRequest("GET", "/api/links", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var listed []slshortener.Link
	json.Unmarshal(w.Body.Bytes(), &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, mine.ID, listed[0].ID)

	// Suppression du lien de bob: interdit
	req = httptest.NewRequest("DELETE", fmt.Sprintf("/api/links/%d", other.ID), nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Suppression de son propre lien
	req = httptest.NewRequest("DELETE", fmt.Sprintf("/api/links/%d", mine.ID), nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Lien inexistant
	req = httptest.NewRequest("DELETE", "/api/links/99999", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ============= Tests pour l'authentification =============

func TestRegisterAndLogin(t *testing.T) {
	testDB := setupTestDB(t)
	r := setupTestRouter()
	auth := handlers_auth.NewAuthHandler(testDB)

	r.POST("/user/register", auth.Register)
	r.POST("/user/login", auth.Login)

	// Inscription
	w := postJSON(r, "/user/register", handlers_auth.RegisterRequest{
		Username: "alice",
		Password: "motdepasse",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	// Mot de passe trop court
	w = postJSON(r, "/user/register", handlers_auth.RegisterRequest{
		Username: "bob",
		Password: "court",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Nom déjà pris
	w = postJSON(r, "/user/register", handlers_auth.RegisterRequest{
		Username: "alice",
		Password: "autremotdepasse",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Connexion
	tests := []struct {
		name       string
		username   string
		password   string
		wantStatus int
	}{
		{"Valid credentials", "alice", "motdepasse", http.StatusOK},
		{"Wrong password", "alice", "mauvais-mdp", http.StatusUnauthorized},
		{"Unknown user", "charlie", "motdepasse", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(r, "/user/login", handlers_auth.LoginRequest{
				Username: tt.username,
				Password: tt.password,
			})
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.NotEmpty(t, w.Header().Get("Set-Cookie"))
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	testDB := setupTestDB(t)
	r := setupTestRouter()
	auth := handlers_auth.NewAuthHandler(testDB)

	r.POST("/user/register", auth.Register)
	r.POST("/user/login", auth.Login)
	r.POST("/user/logout", auth.Logout)
	r.GET("/api/links", handlers_auth.AuthRequired(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// Sans session: refusé
	req := httptest.NewRequest("GET", "/api/links", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Inscription puis connexion
	w = postJSON(r, "/user/register", handlers_auth.RegisterRequest{Username: "alice", Password: "motdepasse"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(r, "/user/login", handlers_auth.LoginRequest{Username: "alice", Password: "motdepasse"})
	require.Equal(t, http.StatusOK, w.Code)
	sessionCookie := w.Header().Get("Set-Cookie")

	// Avec le cookie de session: accepté
	req = httptest.NewRequest("GET", "/api/links", nil)
	req.Header.Set("Cookie", sessionCookie)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusOK, w2.Code)

	// Déconnexion puis accès refusé
	req = httptest.NewRequest("POST", "/user/logout", nil)
	req.Header.Set("Cookie", sessionCookie)
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req)
	assert.Equal(t, http.StatusOK, w3.Code)

	req = httptest.NewRequest("GET", "/api/links", nil)
	req.Header.Set("Cookie", w3.Header().Get("Set-Cookie"))
	w4 := httptest.NewRecorder()
	r.ServeHTTP(w4, req)
	assert.Equal(t, http.StatusUnauthorized, w4.Code)
}

// ============= Tests pour les fichiers statiques =============

func TestServeMinified(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "app.css"), []byte("body {  color: red;  }"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "logo.svg"), []byte("<svg></svg>"), 0644))

	static := handlers_static.NewStaticHandler(tempDir)
	r := setupTestRouter()
	r.GET("/assets/*filepath", static.ServeMinified)

	// CSS minifié avec en-têtes de cache
	req := httptest.NewRequest("GET", "/assets/app.css", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "body{color:red}", w.Body.String())
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")
	assert.NotEmpty(t, w.Header().Get("ETag"))

	// Autre type servi tel quel
	req = httptest.NewRequest("GET", "/assets/logo.svg", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<svg></svg>", w.Body.String())

	// Fichier inexistant
	req = httptest.NewRequest("GET", "/assets/missing.js", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSPAFallback(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "index.html"), []byte("<html>dashboard</html>"), 0644))

	static := handlers_static.NewStaticHandler(tempDir)
	r := setupTestRouter()
	r.NoRoute(static.SPAFallback)

	// Route client inconnue: index.html, le routage se fait côté client
	req := httptest.NewRequest("GET", "/analytics/abc123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dashboard")

	// Route API inconnue: 404 JSON, jamais le index.html
	req = httptest.NewRequest("GET", "/api/nonexistent", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}
