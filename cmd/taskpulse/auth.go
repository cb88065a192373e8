package main

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/digitaldrywood/taskpulse/internal/logger"
)

var openFlag bool

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Check the service credential and print the sign-in URL",
	Long: `Verify that the credential used by scheduled runs can obtain a Graph token,
then print the interactive authorization URL for the dashboard.

Examples:
  taskpulse auth          # check and print the URL
  taskpulse auth --open   # also open the URL in a browser`,
	RunE: runAuth,
}

func init() {
	authCmd.Flags().BoolVar(&openFlag, "open", false, "open the authorization URL in a browser")
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fmt.Println("=== taskpulse authentication ===")
	fmt.Println()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	identity, err := a.serviceAuth(ctx)
	if err != nil {
		return err
	}

	kind := "application (client credentials)"
	if identity.Delegated() {
		kind = "delegated (refresh token)"
	}
	if _, ok := identity.Authorizer().AuthorizedHeaders(ctx); ok {
		fmt.Printf("Service credential OK: %s\n", kind)
	} else {
		fmt.Printf("Service credential FAILED: %s; scheduled runs will not authenticate\n", kind)
	}
	if err := identity.Persist(ctx); err != nil {
		logger.Warn("failed to persist service credential", "error", err)
	}

	url := a.manager.AuthorizationURL(uuid.New().String())
	fmt.Println()
	fmt.Printf("Sign in to the dashboard at:\n%v\n", url)
	fmt.Printf("(the callback must reach %s)\n", cfg.RedirectURI)

	if openFlag {
		openBrowser(url)
	}
	return nil
}

// openBrowser tries to open the URL in a browser
func openBrowser(url string) {
	var err error

	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}

	if err != nil {
		logger.Warn("failed to open browser", "error", err)
	}
}
