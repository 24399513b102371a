// Command devtoken prints a bearer token signed with the configured jwt_secret, for calling the API locally.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stanstork/lms-import/internal/authz"
	"github.com/stanstork/lms-import/internal/config"
	"github.com/stanstork/lms-import/internal/models"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	flags := pflag.NewFlagSet("devtoken", pflag.ExitOnError)
	tenantID := flags.String("tenant", "", "tenant id (tid claim)")
	userID := flags.String("user", "", "user id (sub claim), random when empty")
	roles := flags.StringSlice("roles", []string{string(models.RoleAdmin)}, "roles to grant")
	ttl := flags.Duration("ttl", 24*time.Hour, "token lifetime")
	configFile := flags.String("config", "", "path to a YAML config file")
	flags.Parse(os.Args[1:])

	if *tenantID == "" {
		logger.Fatal().Msg("--tenant is required")
	}
	if *userID == "" {
		*userID = uuid.NewString()
	}

	var configArgs []string
	if *configFile != "" {
		configArgs = []string{"--config", *configFile}
	}
	cfg, err := config.Load(configArgs)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	granted := make([]models.UserRole, 0, len(*roles))
	for _, r := range *roles {
		role := models.UserRole(r)
		if !models.IsValidRole(role) {
			logger.Fatal().Str("role", r).Msg("Unknown role")
		}
		granted = append(granted, role)
	}

	token, err := authz.SignToken(cfg.JWTSecret, authz.Claims{
		UserID:   *userID,
		TenantID: *tenantID,
		Roles:    granted,
	}, *ttl)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to sign token")
	}
	fmt.Println(token)
}
