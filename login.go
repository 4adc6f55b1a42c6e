package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/cloud"
	"github.com/tonimelisma/ledgersync/internal/config"
	"github.com/tonimelisma/ledgersync/internal/ledger"
	"github.com/tonimelisma/ledgersync/internal/tokenfile"
)

// EnvPassword lets scripts supply the password non-interactively.
const EnvPassword = "LEDGERSYNC_PASSWORD"

func newLoginCmd() *cobra.Command {
	var flagPassword string

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Authenticate against the cloud service and register this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			username := args[0]

			password := flagPassword
			if password == "" {
				password = os.Getenv(EnvPassword)
			}

			if password == "" {
				fmt.Print("Password: ")

				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}

				password = strings.TrimRight(line, "\r\n")
			}

			if password == "" {
				return fmt.Errorf("password must not be empty")
			}

			client := cloud.NewClient(
				loadedCfg.Remote.BaseURL,
				newHTTPClient(),
				tokenfile.Source{Path: config.TokenPath()},
				logger,
			)

			sess, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			// Device identity persists across logins: reuse the configured
			// ID when present, otherwise mint one on first login.
			deviceID := loadedCfg.Device.ID
			if deviceID == "" {
				deviceID = uuid.New().String()
			}

			deviceName := loadedCfg.Device.Name
			if deviceName == "" {
				if host, hostErr := os.Hostname(); hostErr == nil {
					deviceName = host
				} else {
					deviceName = "unknown"
				}
			}

			stored := &tokenfile.Session{
				Token:    sess.Token,
				UserID:   sess.UserID,
				Username: sess.Username,
				DeviceID: deviceID,
			}
			if err := tokenfile.Save(config.TokenPath(), stored); err != nil {
				return err
			}

			// Seed the local replica with the authenticated user and this
			// device so the integrity verifier has its reference rows.
			store, err := openLocalStore(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			user := &ledger.User{
				ID:       sess.UserID,
				Username: sess.Username,
				Email:    sess.Email,
				Active:   true,
			}
			if err := store.PutUser(cmd.Context(), user); err != nil {
				return err
			}

			device := &ledger.Device{
				ID:         deviceID,
				UserID:     sess.UserID,
				Name:       deviceName,
				Type:       loadedCfg.Device.Type,
				LastSeenAt: ledger.NowNano(),
			}
			if err := store.PutDevice(cmd.Context(), device); err != nil {
				return err
			}

			logger.Info("login succeeded",
				slog.String("username", sess.Username),
				slog.String("device_id", deviceID),
			)
			statusf("Logged in as %s (device %s)", sess.Username, deviceName)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagPassword, "password", "", "password (prompts when omitted)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			sess, err := tokenfile.Load(config.TokenPath())
			if err != nil {
				return err
			}

			if sess == nil {
				statusf("Not logged in")
				return nil
			}

			client := cloud.NewClient(
				loadedCfg.Remote.BaseURL,
				newHTTPClient(),
				tokenfile.Source{Path: config.TokenPath()},
				logger,
			)

			// Best effort: the local session ends regardless of whether the
			// server acknowledged the revocation.
			if err := client.Logout(cmd.Context()); err != nil {
				logger.Warn("server-side logout failed", slog.String("error", err.Error()))
			}

			if err := tokenfile.Remove(config.TokenPath()); err != nil {
				return err
			}

			statusf("Logged out %s", sess.Username)

			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			sess, err := requireSession()
			if err != nil {
				return err
			}

			client := cloud.NewClient(
				loadedCfg.Remote.BaseURL,
				newHTTPClient(),
				tokenfile.Source{Path: config.TokenPath()},
				logger,
			)

			live, err := client.Whoami(cmd.Context())
			if err != nil {
				// Offline fallback: show what the session file remembers.
				logger.Debug("whoami request failed, using cached identity",
					slog.String("error", err.Error()),
				)

				if flagJSON {
					return writeJSON(map[string]string{
						"username":  sess.Username,
						"user_id":   sess.UserID,
						"device_id": sess.DeviceID,
						"source":    "cached",
					})
				}

				statusf("%s (cached — remote unreachable)", sess.Username)

				return nil
			}

			if flagJSON {
				return writeJSON(map[string]string{
					"username":  live.Username,
					"email":     live.Email,
					"user_id":   live.UserID,
					"device_id": sess.DeviceID,
					"source":    "remote",
				})
			}

			statusf("%s <%s>", live.Username, live.Email)

			return nil
		},
	}
}
