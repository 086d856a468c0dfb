package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/existflow/todosync/internal/config"
	"github.com/existflow/todosync/internal/logger"
	tsync "github.com/existflow/todosync/internal/sync"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage user-pool authentication",
	Long: `Manage the user-pool account used when api.auth_mode is user_pool.
The session token is stored in the config file; the password is not.`,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the endpoint",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a new account on the endpoint",
	Args:  cobra.NoArgs,
	RunE:  runRegister,
}

var authUsername string

func init() {
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(registerCmd)

	authCmd.PersistentFlags().StringVarP(&authUsername, "username", "u", "", "Account username")
}

// promptCredentials asks for whatever the flags and config do not supply
func promptCredentials(cfg *config.Config) (string, string, error) {
	reader := bufio.NewReader(os.Stdin)

	username := authUsername
	if username == "" {
		username = cfg.API.Username
	}
	if username == "" {
		fmt.Print("Username: ")
		line, _ := reader.ReadString('\n')
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return "", "", fmt.Errorf("username required")
	}

	fmt.Print("Password: ")
	var password string
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		passwordBytes, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", "", fmt.Errorf("failed to read password: %w", err)
		}
		password = string(passwordBytes)
	} else {
		line, _ := reader.ReadString('\n')
		password = strings.TrimRight(line, "\r\n")
		fmt.Println()
	}
	if password == "" {
		return "", "", fmt.Errorf("password required")
	}
	return username, password, nil
}

func authenticate(register bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	username, password, err := promptCredentials(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	client := tsync.NewClient(cfg.API.Endpoint, nil, logger.Default())
	var result tsync.LoginResult
	if register {
		fmt.Println("🔄 Creating account...")
		result, err = client.Register(ctx, username, password)
	} else {
		fmt.Println("🔄 Logging in...")
		result, err = client.Login(ctx, username, password)
	}
	if err != nil {
		return err
	}

	cfg.API.AuthMode = config.AuthUserPool
	cfg.API.Username = username
	cfg.API.Password = ""
	cfg.API.Token = result.Token
	if err := cfg.Save(resolvedConfigPath()); err != nil {
		return err
	}
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	if err := authenticate(false); err != nil {
		return err
	}
	fmt.Println("✅ Logged in successfully!")
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	if err := authenticate(true); err != nil {
		return err
	}
	fmt.Println("✅ Account created and logged in!")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.API.Token == "" {
		fmt.Println("Not logged in.")
		return nil
	}

	cfg.API.Token = ""
	if err := cfg.Save(resolvedConfigPath()); err != nil {
		return err
	}
	fmt.Println("✅ Logged out successfully.")
	return nil
}
