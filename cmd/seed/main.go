// Command main runs the demo data seeder for chapterhub.
package main

import (
	"context"
	"flag"
	"log"

	"chapterhub/internal/config"
	"chapterhub/internal/database"
	"chapterhub/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	usersPerTenant := flag.Int("users", defaults.UsersPerTenant, "Members to create per tenant")
	postsPerUser := flag.Int("posts", defaults.PostsPerUser, "Forum posts per member")
	uploadsPerTenant := flag.Int("uploads", defaults.UploadsPerTenant, "Uploads per tenant")
	flagRatio := flag.Float64("flag-ratio", defaults.FlagRatio, "Share of posts that get reported")
	maxDays := flag.Int("max-days", defaults.MaxDays, "Spread created_at over this many days")
	randomSeed := flag.Int64("seed", 0, "Random seed (0 picks one)")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	dryRun := flag.Bool("dry-run", false, "Build rows without writing them")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	opts := defaults
	opts.UsersPerTenant = *usersPerTenant
	opts.PostsPerUser = *postsPerUser
	opts.UploadsPerTenant = *uploadsPerTenant
	opts.FlagRatio = *flagRatio
	opts.MaxDays = *maxDays
	opts.RandomSeed = *randomSeed
	opts.Clean = *shouldClean
	opts.DryRun = *dryRun
	opts.BcryptCost = cfg.BcryptCost
	opts.QuotaDefaults = cfg.QuotaDefaults()

	sum, err := seed.NewSeeder(db, opts).Run(context.Background())
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ Seeded %d tenants, %d users, %d posts, %d uploads, %d flags",
		sum.Tenants, sum.Users, sum.Posts, sum.Uploads, sum.Flags)
	log.Printf("📧 All seeded users have the password: %s", seed.DefaultPassword)
}
