package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/confera/confera/internal/auth"
	"github.com/confera/confera/internal/client"
	"github.com/confera/confera/internal/room"
	"github.com/confera/confera/internal/ui"
)

var (
	flagAdminSecret  string
	flagDeleteSecure bool
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List public rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig("")
		if err != nil {
			return err
		}
		rooms, err := client.NewAPI(cfg).Rooms(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(ui.RoomsView(rooms))
		return nil
	},
}

var roomsDeleteCmd = &cobra.Command{
	Use:   "delete <room-id>",
	Short: "Close a room and disconnect its members (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagAdminSecret)
		if err != nil {
			return err
		}
		if cfg.AdminSecret == "" {
			return errors.New("admin secret required: pass --admin-secret or set CONFERA_ADMIN_SECRET")
		}
		token, err := auth.NewAdminTokens(cfg.AdminSecret, time.Minute).Issue("confera-cli")
		if err != nil {
			return err
		}

		resp, err := client.NewAPI(cfg).DeleteRoom(cmd.Context(), token, room.VisibilityFromSecure(flagDeleteSecure), args[0])
		if err != nil {
			return err
		}
		ui.PrintSuccessf("Room %s closed, %d participant(s) removed", resp.RoomID, resp.RemovedParticipants)
		return nil
	},
}

func init() {
	roomsDeleteCmd.Flags().StringVar(&flagAdminSecret, "admin-secret", "", "Admin token signing secret (env CONFERA_ADMIN_SECRET)")
	roomsDeleteCmd.Flags().BoolVar(&flagDeleteSecure, "secure", false, "Room is in the private namespace")
	roomsCmd.AddCommand(roomsDeleteCmd)
	rootCmd.AddCommand(roomsCmd)
}
