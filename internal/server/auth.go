package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chapterhub/internal/authz"
	"chapterhub/internal/config"
	"chapterhub/internal/middleware"
	"chapterhub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	wsTicketPrefix     = "ws_ticket:"
	wsTicketTTL        = 30 * time.Second
	tokenBlacklistPref = "blacklist:"

	principalLocal = "principal"
)

// IssueToken signs an access token for userID. It returns the token and its jti.
func IssueToken(cfg *config.Config, userID uint, ttl time.Duration) (string, string, error) {
	if cfg.JWTSecret == "" {
		return "", "", fmt.Errorf("JWT secret not configured")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := time.Now()
	jti := uuid.NewString()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iss": cfg.JWTIssuer,
		"aud": cfg.JWTAudience,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"jti": jti,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// RevokeToken blacklists jti for ttl, normally the token's remaining lifetime.
func RevokeToken(ctx context.Context, rdb *redis.Client, jti string, ttl time.Duration) error {
	if rdb == nil {
		return errors.New("redis is required to revoke tokens")
	}
	if strings.TrimSpace(jti) == "" {
		return errors.New("jti is required")
	}
	return rdb.Set(ctx, tokenBlacklistPref+jti, "1", ttl).Err()
}

// AuthRequired resolves the caller into an active principal. The live-feed
// socket authenticates with a single-use ticket; every other route takes a
// Bearer token.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isWSPath := strings.HasPrefix(c.Path(), "/api/admin/ws") && c.Method() == fiber.MethodGet

		var (
			userID uint
			err    error
		)
		if isWSPath {
			userID, err = s.consumeWSTicket(c)
		} else {
			userID, err = s.parseBearer(c)
		}
		if err != nil {
			return models.RespondError(c, err)
		}

		principal, err := s.users.Authenticate(c.UserContext(), userID)
		if err != nil {
			return models.RespondError(c, err)
		}

		ban, err := s.bans.Status(c.UserContext(), models.BanTargetUser, userID)
		if err != nil {
			return models.RespondError(c, models.NewInternalError(err))
		}
		if ban != nil {
			return models.RespondError(c, models.NewForbiddenError("account is banned"))
		}

		c.Locals("userID", userID)
		c.Locals(principalLocal, principal)
		c.SetUserContext(middleware.WithPrincipal(c.UserContext(), userID, principal.TenantID))

		return c.Next()
	}
}

func (s *Server) consumeWSTicket(c *fiber.Ctx) (uint, error) {
	ticket := c.Query("ticket")
	if ticket == "" || s.redis == nil {
		return 0, models.NewUnauthenticatedError("Invalid or expired WebSocket ticket")
	}
	key := wsTicketPrefix + ticket
	userIDStr, err := s.redis.GetDel(c.UserContext(), key).Result()
	if err != nil {
		return 0, models.NewUnauthenticatedError("Invalid or expired WebSocket ticket")
	}
	userID, err := strconv.ParseUint(userIDStr, 10, 32)
	if err != nil {
		return 0, models.NewUnauthenticatedError("Invalid or expired WebSocket ticket")
	}
	return uint(userID), nil
}

func (s *Server) parseBearer(c *fiber.Ctx) (uint, error) {
	tokenString := ""
	parts := strings.Split(c.Get(fiber.HeaderAuthorization), " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		tokenString = parts[1]
	}
	if tokenString == "" {
		return 0, models.NewUnauthenticatedError("Authorization required")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithIssuer(s.config.JWTIssuer),
		jwt.WithAudience(s.config.JWTAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return 0, models.NewUnauthenticatedError("Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, models.NewUnauthenticatedError("Invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return 0, models.NewUnauthenticatedError("Invalid subject claim")
	}
	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return 0, models.NewUnauthenticatedError("Invalid user ID in token")
	}

	if jti, _ := claims["jti"].(string); jti != "" && s.redis != nil {
		revoked, err := s.redis.Exists(c.UserContext(), tokenBlacklistPref+jti).Result()
		if err != nil {
			middleware.RedisErrors("token_blacklist")
		} else if revoked > 0 {
			return 0, models.NewUnauthenticatedError("Token has been revoked")
		}
	}

	return uint(userID), nil
}

// IssueWSTicket handles POST /api/admin/ws/ticket. Browsers cannot set
// headers on a WebSocket upgrade, so the feed takes a short-lived ticket.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	p := principal(c)
	if !p.IsAdmin() {
		return models.RespondError(c, models.NewForbiddenError("Admin access required"))
	}
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			fiber.NewError(fiber.StatusServiceUnavailable, "live feed is unavailable"))
	}

	ticket := uuid.NewString()
	key := wsTicketPrefix + ticket
	if err := s.redis.Set(c.UserContext(), key, strconv.FormatUint(uint64(p.ID), 10), wsTicketTTL).Err(); err != nil {
		middleware.RedisErrors("ws_ticket")
		return models.RespondError(c, models.NewInternalError(err))
	}

	return models.RespondOK(c, fiber.StatusCreated, fiber.Map{
		"ticket":     ticket,
		"expires_in": int(wsTicketTTL.Seconds()),
	})
}

// principal returns the caller resolved by AuthRequired.
func principal(c *fiber.Ctx) *authz.Principal {
	p, _ := c.Locals(principalLocal).(*authz.Principal)
	return p
}
