package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"securelink/internal/gormzerolog"
	handlers_analytics "securelink/internal/handlers/analytics"
	handlers_auth "securelink/internal/handlers/auth"
	handlers_links "securelink/internal/handlers/links"
	handlers_static "securelink/internal/handlers/static"
	"securelink/internal/models/slcaptchas"
	"securelink/internal/models/slconfig"
	"securelink/internal/models/slgeo"
	"securelink/internal/models/sllog"
	"securelink/internal/models/slshortener"
	"securelink/internal/slmiddleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const VERSION string = "1.0.0"

var BuildID string

func parseCommandLineArgs() (configFile string, shouldCreateExample bool, versionDisplay bool, err error) {
	var config = flag.String("config", "", "Fichier de configuration YAML")
	var example = flag.Bool("example", false, "Créer un fichier de configuration exemple")
	var version = flag.Bool("version", false, "version du produit")
	flag.Parse()

	if *version {
		return "", false, true, nil
	}

	if *example {
		return "", true, false, nil
	}

	if *config == "" {
		return "", false, false, fmt.Errorf("fichier de configuration requis")
	}

	return *config, false, false, nil
}

func initConfiguration() *slconfig.Config {
	configFile, shouldCreateExample, versionDisplay, err := parseCommandLineArgs()
	if err != nil {
		fmt.Println("Usage:")
		fmt.Println("  securelink -config securelink.yaml")
		fmt.Println("  securelink -example  (pour créer un fichier exemple)")
		fmt.Println("  securelink -version  (affiche la version)")
		os.Exit(1)
	}

	if versionDisplay {
		println(VERSION)
		os.Exit(0)
	}

	slconfig.CreateExample(shouldCreateExample, configFile)

	conf, err := slconfig.LoadConfig(configFile)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	if conf.Database.Db == "sqlite" && conf.Database.Path == "" {
		fmt.Println("❌ database.path ne peut pas être vide")
		os.Exit(1)
	}
	if conf.Database.Db == "mysql" && conf.Database.Dsn == "" {
		fmt.Println("❌ database.dsn ne peut pas être vide")
		os.Exit(1)
	}

	if conf.Listen.Website == "" {
		conf.Listen.Website = "localhost:8080"
	}
	if strings.HasPrefix(conf.Listen.Website, ":") {
		conf.Listen.Website = "localhost" + conf.Listen.Website
	}
	if conf.BaseURL == "" {
		conf.BaseURL = "http://" + conf.Listen.Website
	}

	return conf
}

func initDatabase(conf *slconfig.Config) *gorm.DB {
	// Créer le logger GORM avec Zerolog
	level := "warn"
	if conf.Logger.Level == "debug" || !conf.Production {
		level = "trace"
	}
	gormLogger := gormzerolog.New(level)

	var db *gorm.DB
	var err error
	switch conf.Database.Db {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(conf.Database.Path), &gorm.Config{
			Logger: gormLogger,
		})
	case "mysql":
		db, err = gorm.Open(mysql.Open(conf.Database.Dsn), &gorm.Config{
			Logger: gormLogger,
		})
	default:
		err = fmt.Errorf("le type de database doit etre sqlite ou mysql")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Erreur connexion base de données")
	}

	err = db.AutoMigrate(&slshortener.User{}, &slshortener.Link{}, &slshortener.ClickEvent{})
	if err != nil {
		log.Fatal().Err(err).Msg("Erreur migration")
	}

	log.Info().Str("db", conf.Database.Db).Msg("Base de données initialisée")
	return db
}

func newRedisClient(conf *slconfig.Config) *redis.Client {
	if conf.Database.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr: conf.Database.Redis.Addr,
		DB:   conf.Database.Redis.Db,
	})
}

func newServer(conf *slconfig.Config) *gin.Engine {
	if conf.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	if conf.TrustedProxies != nil {
		r.SetTrustedProxies(conf.TrustedProxies)
	}
	if conf.TrustedPlatform != "" {
		switch conf.TrustedPlatform {
		case "cloudflare":
			r.TrustedPlatform = gin.PlatformCloudflare
		case "google":
			r.TrustedPlatform = gin.PlatformGoogleAppEngine
		case "flyio":
			r.TrustedPlatform = gin.PlatformFlyIO
		default:
			r.TrustedPlatform = conf.TrustedPlatform
		}
	}

	return r
}

func setRoutes(r *gin.Engine, conf *slconfig.Config, db *gorm.DB, redisClient *redis.Client) {
	geoCache := slgeo.NewCache()
	resolver, err := slgeo.NewResolver(conf.Geo, geoCache)
	if err != nil {
		log.Fatal().Err(err).Msg("Erreur initialisation résolveur géo")
	}

	captcha := slcaptchas.New(conf.Database.Redis.Addr, conf.Database.Redis.Db, conf.Production)
	linkService := slshortener.NewLinkService(db, redisClient, conf.Analytics.RetentionDays)

	links := handlers_links.NewLinksHandler(linkService, resolver, captcha, conf.BaseURL)
	analytics := handlers_analytics.NewAnalyticsHandler(linkService)
	auth := handlers_auth.NewAuthHandler(db)
	static := handlers_static.NewStaticHandler(conf.StaticPath)

	// middleware rate limiter
	limiter := slmiddleware.NewLimiter()

	// Client du tableau de bord, routage SPA côté client
	r.GET("/assets/*filepath", static.ServeMinified)
	r.NoRoute(static.SPAFallback)

	r.GET("/files/captcha", links.Captcha)

	// Résolution des liens courts
	r.GET("/:code", links.Redirect)

	// API publiques
	api := r.Group("/api")
	{
		api.POST("/shorten", limiter, links.Shorten)
		api.GET("/analytics/:code", analytics.GetAnalytics)
		api.GET("/analytics/:code/realtime", analytics.GetRealtimeStats)
		api.GET("/links", handlers_auth.AuthRequired(), links.MyLinks)
		api.DELETE("/links/:id", handlers_auth.AuthRequired(), links.Delete)
	}

	// Routes d'authentification
	user := r.Group("/user")
	{
		user.POST("/register", limiter, auth.Register)
		user.POST("/login", limiter, auth.Login)
		user.POST("/logout", auth.Logout)
	}
}

func startServer(r *gin.Engine, conf *slconfig.Config) {
	log.Info().Str("addr", conf.Listen.Website).Msg("Website démarré")
	r.Run(conf.Listen.Website)
}

func main() {
	if BuildID == "" {
		BuildID = VERSION
	}

	conf := initConfiguration()
	sllog.InitLogger(conf.Logger, conf.Production)

	db := initDatabase(conf)
	redisClient := newRedisClient(conf)

	r := newServer(conf)
	slmiddleware.InitMiddleware(r, conf.Production)
	setRoutes(r, conf, db, redisClient)

	startServer(r, conf)
}
