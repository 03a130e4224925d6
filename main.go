package main

import (
	"time"

	"github.com/avorontsov/lenta/config"
	"github.com/avorontsov/lenta/models"
	"github.com/avorontsov/lenta/routes"
	"github.com/avorontsov/lenta/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(
		&models.User{},
		&models.Group{},
		&models.Post{},
		&models.Comment{},
		&models.Follow{},
		&models.PageView{},
		&models.UploadedFile{},
	)

	cache := utils.NewDefaultPageCache(time.Duration(cfg.CacheIndexTTLSeconds) * time.Second)

	r := routes.SetupRouter(db, cache)

	// Remove detached images in the background (best-effort)
	utils.StartOrphanCleaner(5 * time.Minute)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
