package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"vizdots/api/internal/auth"
	"vizdots/api/internal/config"
	"vizdots/api/internal/rbac"
	"vizdots/api/internal/util"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token signed with VIZDOTS_JWT_SECRET",
	Long: `Issue an HS256 bearer token for local development and service accounts.
The token is scoped to one org; the API rejects it on any other org's routes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, _ := cmd.Flags().GetString("org")
		userID, _ := cmd.Flags().GetString("user")
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg := config.Load()
		if ttl <= 0 {
			ttl = cfg.TokenTTL
		}
		if rbac.Normalize(role) != rbac.Role(role) {
			return fmt.Errorf("unknown role %q (member, manager, admin)", role)
		}

		token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.Claims{
			OrgID: orgID,
			Name:  name,
			Role:  role,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject: userID,
				ID:      util.NewID("tok"),
			},
		}, ttl, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("org", "", "Org ID the token is scoped to (required)")
	tokenCmd.Flags().String("user", "", "Member ID used as the token subject (required)")
	tokenCmd.Flags().String("name", "", "Display name")
	tokenCmd.Flags().String("role", string(rbac.RoleMember), "Role: member, manager or admin")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default VIZDOTS_TOKEN_TTL_SECONDS)")
	_ = tokenCmd.MarkFlagRequired("org")
	_ = tokenCmd.MarkFlagRequired("user")
}
