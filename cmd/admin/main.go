// Package main provides operator utilities for chapterhub: admin accounts,
// access tokens and one-off maintenance runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"chapterhub/internal/cache"
	"chapterhub/internal/config"
	"chapterhub/internal/database"
	"chapterhub/internal/models"
	"chapterhub/internal/server"
	"chapterhub/internal/service"
	"chapterhub/internal/validation"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  admin create-admin <email> <first> <last>   - Create an admin (password from ADMIN_PASSWORD)")
	fmt.Println("  admin promote <user_id>                     - Promote user to admin")
	fmt.Println("  admin demote <user_id>                      - Demote admin to member")
	fmt.Println("  admin list-admins                           - List all admins")
	fmt.Println("  admin mint-token <user_id> [ttl]            - Issue an access token (default ttl 24h)")
	fmt.Println("  admin revoke-token <jti> [ttl]              - Blacklist a token id")
	fmt.Println("  admin regenerate-snapshot [daily|weekly]    - Rebuild an analytics snapshot")
	fmt.Println("  admin sweep-bans                            - Deactivate expired bans")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	command := os.Args[1]
	args := os.Args[2:]
	ctx := context.Background()

	// mint-token only signs; it needs no database.
	if command == "mint-token" {
		mintToken(cfg, args)
		return
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	switch command {
	case "create-admin":
		requireArgs(args, 3, "create-admin <email> <first> <last>")
		createAdmin(db, cfg, args[0], args[1], args[2])
	case "promote":
		requireArgs(args, 1, "promote <user_id>")
		setRole(db, args[0], models.RoleAdmin)
	case "demote":
		requireArgs(args, 1, "demote <user_id>")
		setRole(db, args[0], models.RoleMember)
	case "list-admins":
		listAdmins(db)
	case "revoke-token":
		requireArgs(args, 1, "revoke-token <jti> [ttl]")
		revokeToken(ctx, cfg, args)
	case "regenerate-snapshot":
		regenerateSnapshot(ctx, cfg, db, args)
	case "sweep-bans":
		sweepBans(ctx, db)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}
}

func requireArgs(args []string, n int, form string) {
	if len(args) < n {
		fmt.Printf("Usage: admin %s\n", form)
		os.Exit(1)
	}
}

func parseTTL(args []string, idx int) time.Duration {
	if len(args) <= idx {
		return 24 * time.Hour
	}
	ttl, err := time.ParseDuration(args[idx])
	if err != nil || ttl <= 0 {
		log.Fatalf("Invalid ttl %q: use a Go duration such as 2h", args[idx])
	}
	return ttl
}

func createAdmin(db *gorm.DB, cfg *config.Config, email, first, last string) {
	password := os.Getenv("ADMIN_PASSWORD")
	if err := validation.DefaultPolicy.Check(password, email); err != nil {
		log.Fatalf("ADMIN_PASSWORD rejected: %v", err)
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	user := models.User{
		FirstName: first,
		LastName:  last,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Password:  string(hash),
		Role:      models.RoleAdmin,
		IsActive:  true,
	}
	if err := db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Fatalf("A user with email %s already exists", user.Email)
		}
		log.Fatalf("Database error: %v", err)
	}
	fmt.Printf("✅ Created admin %s (ID: %d)\n", user.Email, user.ID)
}

func setRole(db *gorm.DB, userID string, role models.Role) {
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Printf("User with ID %s not found\n", userID)
			os.Exit(1)
		}
		log.Fatalf("Database error: %v", err)
	}

	if user.Role == role {
		fmt.Printf("User %s (ID: %d) already has role %s\n", user.Email, user.ID, role)
		return
	}

	if err := db.Model(&user).Update("role", role).Error; err != nil {
		log.Fatalf("Failed to update role: %v", err)
	}
	fmt.Printf("✅ %s (ID: %d) is now %s\n", user.Email, user.ID, role)
}

func listAdmins(db *gorm.DB) {
	var admins []models.User
	if err := db.Where("role = ?", models.RoleAdmin).Order("id").Find(&admins).Error; err != nil {
		log.Fatalf("Database error: %v", err)
	}

	if len(admins) == 0 {
		fmt.Println("No admins found")
		return
	}

	fmt.Printf("Found %d admin(s):\n", len(admins))
	for _, admin := range admins {
		fmt.Printf("ID: %d | Name: %s | Email: %s | Active: %v\n", admin.ID, admin.FirstName+" "+admin.LastName, admin.Email, admin.IsActive)
	}
}

func mintToken(cfg *config.Config, args []string) {
	requireArgs(args, 1, "mint-token <user_id> [ttl]")
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || id == 0 {
		log.Fatalf("Invalid user id %q", args[0])
	}
	token, jti, err := server.IssueToken(cfg, uint(id), parseTTL(args, 1))
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Printf("jti: %s\n%s\n", jti, token)
}

func revokeToken(ctx context.Context, cfg *config.Config, args []string) {
	cache.InitRedis(cfg.RedisURL)
	defer func() { _ = cache.Close() }()

	if err := server.RevokeToken(ctx, cache.GetClient(), args[0], parseTTL(args, 1)); err != nil {
		log.Fatalf("Failed to revoke token: %v", err)
	}
	fmt.Printf("✅ Revoked %s\n", args[0])
}

func regenerateSnapshot(ctx context.Context, cfg *config.Config, db *gorm.DB, args []string) {
	kind := models.SnapshotDaily
	if len(args) > 0 {
		kind = models.SnapshotKind(args[0])
	}
	if kind != models.SnapshotDaily && kind != models.SnapshotWeekly {
		log.Fatalf("Unknown snapshot kind %q: use daily or weekly", kind)
	}

	cache.InitRedis(cfg.RedisURL)
	defer func() { _ = cache.Close() }()

	audit := service.NewAuditService(db)
	quota := service.NewQuotaService(db, cfg.QuotaDefaults(), audit)
	analytics := service.NewAnalyticsService(db, cache.GetClient(), quota, audit, service.AnalyticsConfig{
		MaxAge:            time.Duration(cfg.SnapshotMaxAgeHours) * time.Hour,
		FlagSLO:           time.Duration(cfg.FlagSLOMinutes) * time.Minute,
		QuotaWarningRatio: cfg.QuotaWarningRatio,
	})

	snap, err := analytics.Regenerate(ctx, kind, service.TriggerManual, 0)
	if err != nil {
		log.Fatalf("Failed to regenerate %s snapshot: %v", kind, err)
	}
	fmt.Printf("✅ Snapshot %d (%s) generated at %s\n", snap.ID, snap.Kind, snap.AsOf.Format(time.RFC3339))
}

func sweepBans(ctx context.Context, db *gorm.DB) {
	audit := service.NewAuditService(db)
	bans := service.NewBanService(db, audit, service.NewOutboxService(db))
	n, err := bans.SweepExpired(ctx)
	if err != nil {
		log.Fatalf("Failed to sweep bans: %v", err)
	}
	fmt.Printf("✅ %d expired ban(s) deactivated\n", n)
}
