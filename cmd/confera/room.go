package main

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/confera/confera/internal/client"
	"github.com/confera/confera/internal/server"
	"github.com/confera/confera/internal/ui"
)

var roomIDPattern = regexp.MustCompile(`^\d+-\d+-\d+$`)

var (
	flagSecure   bool
	flagPassword string
)

var generateIDCmd = &cobra.Command{
	Use:   "generate-id",
	Short: "Ask the server for an unused room id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig("")
		if err != nil {
			return err
		}
		resp, err := client.NewAPI(cfg).GenerateRoomID(cmd.Context(), flagSecure)
		if err != nil {
			return err
		}
		fmt.Println(resp.RoomID)
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create [room-id]",
	Short: "Create a room",
	Long: `Create a public room, or a private one with --secure and --password.
A room id is generated when none is given.

Examples:
  confera create
  confera create 1234-5678-9012
  confera create --secure --password hunter2`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagSecure && flagPassword == "" {
			return errors.New("private rooms need --password")
		}
		cfg, err := loadConfig("")
		if err != nil {
			return err
		}
		api := client.NewAPI(cfg)
		ctx := cmd.Context()

		roomID := ""
		if len(args) == 1 {
			roomID = args[0]
		} else {
			gen, err := api.GenerateRoomID(ctx, flagSecure)
			if err != nil {
				return err
			}
			roomID = gen.RoomID
		}

		var resp *server.CreateRoomResponse
		err = ui.RunWithSpinner("Creating room...", func() error {
			var err error
			resp, err = api.CreateRoom(ctx, server.CreateRoomRequest{
				RoomID:           roomID,
				Password:         flagPassword,
				EnableSecureRoom: flagSecure,
			})
			return err
		})
		if err != nil {
			return err
		}
		fmt.Println(ui.RoomCreatedView(resp.RoomID, resp.JoinLink, resp.IsPrivateRoom))
		return nil
	},
}

var authCmd = &cobra.Command{
	Use:   "auth <room-id>",
	Short: "Check room credentials and print its join link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig("")
		if err != nil {
			return err
		}
		resp, err := client.NewAPI(cfg).Authenticate(cmd.Context(), server.AuthenticateRequest{
			RoomID:     args[0],
			Password:   flagPassword,
			SecureRoom: flagSecure,
		})
		if err != nil {
			return err
		}
		ui.PrintSuccess(resp.Message)
		fmt.Printf("%s %s\n", ui.IconLink, resp.JoinLink)
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <join-link>",
	Short: "Resolve a join link to its room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig("")
		if err != nil {
			return err
		}
		resp, err := client.NewAPI(cfg).JoinWithLink(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		kind := "public"
		if resp.IsPrivateRoom {
			kind = "private"
		}
		ui.PrintInfof("%s %s (%s)", ui.IconRoom, resp.RoomID, kind)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{generateIDCmd, createCmd, authCmd} {
		cmd.Flags().BoolVar(&flagSecure, "secure", false, "Use the private room namespace")
	}
	for _, cmd := range []*cobra.Command{createCmd, authCmd} {
		cmd.Flags().StringVarP(&flagPassword, "password", "p", "", "Room password (private rooms)")
	}
	rootCmd.AddCommand(generateIDCmd, createCmd, authCmd, resolveCmd)
}
