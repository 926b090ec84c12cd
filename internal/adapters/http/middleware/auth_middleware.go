package middleware

import (
	"errors"
	"strings"

	"vereniging-incasso/internal/pkg/jwt"
	"vereniging-incasso/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Administrative roles for the collection API
const (
	RoleAdmin           = "ADMIN"
	RoleFinancialAdmin  = "FINANCIAL_ADMIN"
	RoleMembershipAdmin = "MEMBERSHIP_ADMIN"
)

// AuthMiddleware creates authentication middleware
func AuthMiddleware(manager *jwt.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var accessToken string

		// 1. Try to get token from cookie first
		accessToken = c.Cookies("access_token")

		// 2. If not in cookie, try Authorization header
		if accessToken == "" {
			authHeader := c.Get("Authorization")
			if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
				accessToken = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		// 3. No token found
		if accessToken == "" {
			return response.Unauthorized(c, "Access token required")
		}

		// 4. Validate token
		claims, err := manager.Validate(accessToken)
		if err != nil {
			if errors.Is(err, jwt.ErrExpiredToken) {
				return response.Unauthorized(c, "Access token expired")
			}
			return response.Unauthorized(c, "Invalid access token")
		}

		// 5. Set user info in context
		c.Locals("userID", claims.UserID)
		c.Locals("email", claims.Email)
		c.Locals("role", claims.Role)

		return c.Next()
	}
}

// RoleMiddleware creates role-based authorization middleware
func RoleMiddleware(allowedRoles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals("role").(string)
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}

		for _, allowedRole := range allowedRoles {
			if role == allowedRole {
				return c.Next()
			}
		}

		return response.Forbidden(c, "You don't have permission to access this resource")
	}
}

// FinancialAdminOnly allows the roles permitted to mutate batches
func FinancialAdminOnly() fiber.Handler {
	return RoleMiddleware(RoleAdmin, RoleFinancialAdmin)
}

// AnyAdmin allows any administrative role read access
func AnyAdmin() fiber.Handler {
	return RoleMiddleware(RoleAdmin, RoleFinancialAdmin, RoleMembershipAdmin)
}
