package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitaldrywood/taskpulse/internal/graph"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

var (
	usersExcluded bool
	usersPhotos   bool
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List directory users and mark the ones excluded from analytics",
	RunE:  runUsers,
}

func init() {
	usersCmd.Flags().BoolVar(&usersExcluded, "excluded", false, "only show excluded users")
	usersCmd.Flags().BoolVar(&usersPhotos, "photos", false, "also fetch profile photos and report which users have one")
}

func runUsers(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	identity, err := a.serviceAuth(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := identity.Persist(ctx); err != nil {
			logger.Warn("failed to persist service credential", "error", err)
		}
	}()

	var users []graph.User
	if usersPhotos {
		users, err = a.graph.UsersWithPhotos(ctx, identity.Authorizer())
	} else {
		users, err = a.graph.Users(ctx, identity.Authorizer())
	}
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i].DisplayName) < strings.ToLower(users[j].DisplayName)
	})

	fmt.Println("=== Directory ===")
	shown := 0
	for _, u := range users {
		excluded := a.engine.Excluded(u.DisplayName)
		if usersExcluded && !excluded {
			continue
		}
		mark := " "
		if excluded {
			mark = "x"
		}
		line := fmt.Sprintf("[%s] %-30s %s", mark, u.DisplayName, firstNonEmpty(u.Mail, u.UserPrincipalName))
		if usersPhotos && u.Photo != "" {
			line += "  (photo)"
		}
		fmt.Println(line)
		shown++
	}
	fmt.Printf("\n%d users shown, %d excluded by configuration\n", shown, len(cfg.ExcludedUsers))
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
